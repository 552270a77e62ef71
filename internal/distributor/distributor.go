// Package distributor implements the player distributor (C7): shuffling and
// partitioning a session's registered players into hot-store lobbies, per
// spec.md §4.7.
package distributor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// Distributor partitions a session's players into lobbies of bounded size.
type Distributor struct {
	repo  domain.SessionRepository
	store domain.HotStore
	log   *slog.Logger
	rng   *rand.Rand
}

// New constructs a Distributor. repo backs the cache-miss path for the
// session's player set; store is both the cache and the lobby destination.
func New(repo domain.SessionRepository, store domain.HotStore, log *slog.Logger) *Distributor {
	return &Distributor{repo: repo, store: store, log: log, rng: rand.New(rand.NewSource(rand.Int63()))}
}

var tracer = otel.Tracer("distributor")

// Lobby is a (lobby_id, players) pairing, the return value of Distribute.
type Lobby struct {
	ID      int
	Players []domain.LobbyPlayer
}

// Distribute loads the session's registered players (from the hot-store
// cache if present, else the relational store, caching the result), shuffles
// them, partitions them into N = max(1, total/maxPerLobby) lobbies of
// total/N players each with the remainder added to the last lobby (so the
// last lobby can exceed maxPerLobby), and writes the resulting lobby blobs,
// lobby index, and per-player status keys.
func (d *Distributor) Distribute(ctx domain.Context, sessionID int64, maxPerLobby int, now time.Time) ([]Lobby, error) {
	ctx, span := tracer.Start(ctx, "distributor.Distribute")
	defer span.End()
	span.SetAttributes(attribute.Int64("session.id", sessionID), attribute.Int("max_per_lobby", maxPerLobby))

	if maxPerLobby <= 0 {
		return nil, fmt.Errorf("op=distributor.distribute: %w: max_per_lobby must be positive", domain.ErrInvalidArgument)
	}

	wallets, err := d.playerWallets(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=distributor.distribute.load_players: %w", err)
	}
	if len(wallets) == 0 {
		return nil, nil
	}

	d.rng.Shuffle(len(wallets), func(i, j int) { wallets[i], wallets[j] = wallets[j], wallets[i] })

	total := len(wallets)
	n := total / maxPerLobby
	if n < 1 {
		n = 1
	}
	base := total / n
	remainder := total - base*n

	lobbies := make([]Lobby, 0, n)
	idx := 0
	for i := 1; i <= n; i++ {
		size := base
		if i == n {
			size += remainder
		}
		players := make([]domain.LobbyPlayer, size)
		for j := 0; j < size; j++ {
			players[j] = domain.LobbyPlayer{WalletAddress: wallets[idx], Status: domain.PlayerActive}
			idx++
		}
		lobbies = append(lobbies, Lobby{ID: i, Players: players})
	}

	for _, lobby := range lobbies {
		if err := d.writeLobby(ctx, sessionID, lobby, now); err != nil {
			return nil, fmt.Errorf("op=distributor.distribute.write_lobby: %w", err)
		}
	}

	return lobbies, nil
}

func (d *Distributor) playerWallets(ctx domain.Context, sessionID int64) ([]string, error) {
	key := hotstore.SessionPlayersKey(sessionID)
	cached, err := d.store.SMembers(ctx, key)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}

	session, err := d.repo.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	wallets := make([]string, 0, len(session.Players))
	for _, p := range session.Players {
		if p.Status == domain.PlayerActive {
			wallets = append(wallets, p.WalletAddress)
		}
	}
	if len(wallets) > 0 {
		if err := d.store.SAdd(ctx, key, wallets...); err != nil {
			d.log.WarnContext(ctx, "failed to cache session player set", slog.Int64("session_id", sessionID), slog.Any("error", err))
		}
	}
	return wallets, nil
}

func (d *Distributor) writeLobby(ctx domain.Context, sessionID int64, lobby Lobby, now time.Time) error {
	blob := domain.Lobby{
		ID:        lobby.ID,
		SessionID: sessionID,
		Players:   lobby.Players,
		CreatedAt: now,
		Status:    domain.LobbyActive,
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	key := hotstore.LobbyKey(sessionID, lobby.ID)
	if err := d.store.Set(ctx, key, raw); err != nil {
		return err
	}
	if err := d.store.SAdd(ctx, hotstore.LobbyIndexKey(sessionID), key); err != nil {
		return err
	}
	for _, p := range lobby.Players {
		statusBlob, err := json.Marshal(struct {
			Status domain.PlayerStatus `json:"status"`
		}{Status: domain.PlayerActive})
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		if err := d.store.Set(ctx, hotstore.PlayerStatusKey(lobby.ID, p.WalletAddress), statusBlob); err != nil {
			return err
		}
	}
	return nil
}
