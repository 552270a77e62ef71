package phase

import (
	"log/slog"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/observability"
)

// votingStart clears any previous vote list for each active lobby and
// announces the voting window. Users submit votes out-of-band; the worker
// never processes individual votes (spec.md §4.9).
func (d *Dispatcher) votingStart(ctx domain.Context, session domain.Session, round domain.Round) error {
	lobbies, err := d.Lobbies.GetActiveLobbies(ctx, session.ID)
	if err != nil {
		return err
	}
	for _, lb := range lobbies {
		if err := d.Store.Del(ctx, hotstore.VotesKey(session.ID, lb.ID, round.Sequence)); err != nil {
			d.Log.ErrorContext(ctx, "voting start: failed to clear previous votes", slog.Int("lobby_id", lb.ID), slog.Any("error", err))
		}
	}

	d.Broadcaster.Publish(ctx, "rounds", "voting-start", map[string]any{
		"sessionId":      session.ID,
		"roundNumber":    round.Sequence,
		"votingStartTime": round.VotingStartTime,
		"votingEndTime":   round.VotingEndTime,
	})
	return nil
}

// votingEnd tallies each active lobby's votes, publishes the result, marks
// the lobby completed on a "share" result, and clears the vote tally key
// (spec.md §4.9).
func (d *Dispatcher) votingEnd(ctx domain.Context, session domain.Session, round domain.Round) error {
	lobbies, err := d.Lobbies.GetActiveLobbies(ctx, session.ID)
	if err != nil {
		return err
	}

	for _, lb := range lobbies {
		tally, err := d.Lobbies.GetVotingResults(ctx, session.ID, lb.ID, round.Sequence)
		if err != nil {
			d.Log.ErrorContext(ctx, "voting end: failed to read votes", slog.Int("lobby_id", lb.ID), slog.Any("error", err))
			continue
		}

		result := tally.Result()
		observability.VotesTalliedTotal.WithLabelValues(string(result)).Inc()
		d.Broadcaster.Publish(ctx, hotstore.LobbyChannel(lb.ID), "voting-result", map[string]any{"lobbyId": lb.ID, "result": string(result)})

		if result == domain.VoteShare {
			if err := d.Lobbies.UpdateLobbyStatus(ctx, session.ID, lb.ID, domain.LobbyCompleted); err != nil {
				d.Log.ErrorContext(ctx, "voting end: failed to mark lobby completed", slog.Int("lobby_id", lb.ID), slog.Any("error", err))
			}
		}

		if err := d.Store.Del(ctx, hotstore.VotesKey(session.ID, lb.ID, round.Sequence)); err != nil {
			d.Log.ErrorContext(ctx, "voting end: failed to clear vote tally", slog.Int("lobby_id", lb.ID), slog.Any("error", err))
		}
	}
	return nil
}
