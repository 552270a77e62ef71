package phase

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/observability"
)

// eliminationStart fans out one DecideEliminations call per active lobby,
// bounded by d.FanOut (spec.md §5 "default 8"). A lobby whose AI call fails
// is logged and left unchanged; the rest still proceed (spec.md §4.9).
func (d *Dispatcher) eliminationStart(ctx domain.Context, session domain.Session, round domain.Round) error {
	lobbies, err := d.Lobbies.GetActiveLobbies(ctx, session.ID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit(d.FanOut))
	for _, lb := range lobbies {
		lb := lb
		g.Go(func() error {
			d.eliminateLobby(gctx, session, round, lb)
			return nil
		})
	}
	return g.Wait()
}

func fanOutLimit(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (d *Dispatcher) eliminateLobby(ctx domain.Context, session domain.Session, round domain.Round, lb domain.Lobby) {
	log := d.Log.With(slog.Int64("session_id", session.ID), slog.Int("lobby_id", lb.ID), slog.Int("round", round.Sequence))

	decisions, err := d.AI.DecideEliminations(ctx, d.AgentID, session.ID, lb.ID, session.TotalRounds, round.Sequence)
	if err != nil {
		log.WarnContext(ctx, "elimination start: ai call failed, leaving lobby unchanged", slog.Any("error", err))
		return
	}
	if len(decisions) == 0 {
		d.Broadcaster.Publish(ctx, hotstore.LobbyChannel(lb.ID), "elimination-start", map[string]any{"eliminatedPlayers": []string{}})
		return
	}

	eliminated := make(map[string]bool, len(decisions))
	for _, dec := range decisions {
		eliminated[dec.Participant] = true
	}

	for i := range lb.Players {
		if eliminated[lb.Players[i].WalletAddress] {
			lb.Players[i].Status = domain.PlayerEliminated
			statusBlob, _ := json.Marshal(struct {
				Status domain.PlayerStatus `json:"status"`
			}{Status: domain.PlayerEliminated})
			if err := d.Store.Set(ctx, hotstore.PlayerStatusKey(lb.ID, lb.Players[i].WalletAddress), statusBlob); err != nil {
				log.ErrorContext(ctx, "elimination start: failed to set player status", slog.Any("error", err))
			}
		}
	}

	if err := d.Lobbies.UpdateLobby(ctx, session.ID, lb.ID, lb); err != nil {
		log.ErrorContext(ctx, "elimination start: failed to write lobby", slog.Any("error", err))
	}

	eliminatedWallets := make([]string, 0, len(decisions))
	for _, dec := range decisions {
		eliminatedWallets = append(eliminatedWallets, dec.Participant)
		if err := d.Store.RPush(ctx, hotstore.EliminationKey(lb.ID), []byte(dec.Participant)); err != nil {
			log.ErrorContext(ctx, "elimination start: failed to append elimination record", slog.Any("error", err))
		}
	}
	observability.EliminationsAppliedTotal.WithLabelValues(strconv.FormatInt(session.ID, 10)).Add(float64(len(eliminatedWallets)))

	d.Broadcaster.Publish(ctx, hotstore.LobbyChannel(lb.ID), "elimination-start", map[string]any{"eliminatedPlayers": eliminatedWallets})
}

// eliminationEnd announces each active lobby's remaining roster, then closes
// out any lobby with <=1 active player as a game-end (spec.md §4.9).
func (d *Dispatcher) eliminationEnd(ctx domain.Context, session domain.Session, round domain.Round) error {
	lobbies, err := d.Lobbies.GetActiveLobbies(ctx, session.ID)
	if err != nil {
		return err
	}

	for _, lb := range lobbies {
		remaining := lb.RemainingActive()
		remainingWallets := make([]string, len(remaining))
		for i, p := range remaining {
			remainingWallets[i] = p.WalletAddress
		}
		d.Broadcaster.Publish(ctx, hotstore.LobbyChannel(lb.ID), "elimination-end", map[string]any{
			"lobbyId":              lb.ID,
			"message":              "elimination round complete",
			"remainingParticipants": remainingWallets,
		})

		if len(remaining) <= 1 {
			if err := d.Lobbies.UpdateLobbyStatus(ctx, session.ID, lb.ID, domain.LobbyCompleted); err != nil {
				d.Log.ErrorContext(ctx, "elimination end: failed to mark lobby completed", slog.Int("lobby_id", lb.ID), slog.Any("error", err))
				continue
			}
			d.Broadcaster.Publish(ctx, hotstore.LobbyChannel(lb.ID), "game-end", map[string]any{"lobbyId": lb.ID, "message": "lobby reduced to a single remaining participant"})
		}
	}
	return nil
}
