package distributor_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/distributor"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

type fakeRepo struct {
	session domain.Session
}

func (f fakeRepo) ActiveSession(domain.Context, time.Time) (domain.Session, error) { return domain.Session{}, domain.ErrNotFound }
func (f fakeRepo) NextSession(domain.Context, time.Time) (domain.Session, error)   { return domain.Session{}, domain.ErrNotFound }
func (f fakeRepo) SessionByID(_ domain.Context, id int64) (domain.Session, error) {
	if id != f.session.ID {
		return domain.Session{}, domain.ErrNotFound
	}
	return f.session, nil
}

func newStore(t *testing.T) domain.HotStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return hotstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func playersOf(n int) []domain.Player {
	out := make([]domain.Player, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Player{ID: int64(i + 1), WalletAddress: fmt.Sprintf("0x%d", i+1), Status: domain.PlayerActive}
	}
	return out
}

func TestDistribute_PartitionsEvenlyWithRemainder(t *testing.T) {
	store := newStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := fakeRepo{session: domain.Session{ID: 1, Players: playersOf(10)}}
	d := distributor.New(repo, store, log)

	lobbies, err := d.Distribute(context.Background(), 1, 4, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, lobbies, 2)

	total := 0
	for _, l := range lobbies {
		total += len(l.Players)
	}
	require.Equal(t, 10, total)
	// base = 10/2 = 5, remainder = 0, so both lobbies get 5.
	require.Equal(t, 5, len(lobbies[0].Players))
	require.Equal(t, 5, len(lobbies[1].Players))
}

func TestDistribute_RemainderGoesToLastLobby(t *testing.T) {
	store := newStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := fakeRepo{session: domain.Session{ID: 2, Players: playersOf(7)}}
	d := distributor.New(repo, store, log)

	lobbies, err := d.Distribute(context.Background(), 2, 3, time.Now().UTC())
	require.NoError(t, err)
	// N = max(1, 7/3) = 2, base = 7/2 = 3, remainder = 1.
	require.Len(t, lobbies, 2)
	require.Equal(t, 3, len(lobbies[0].Players))
	require.Equal(t, 4, len(lobbies[1].Players))
}

func TestDistribute_NoPlayersReturnsEmpty(t *testing.T) {
	store := newStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := fakeRepo{session: domain.Session{ID: 3}}
	d := distributor.New(repo, store, log)

	lobbies, err := d.Distribute(context.Background(), 3, 4, time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, lobbies)
}

func TestDistribute_WritesLobbyAndPlayerStatusKeys(t *testing.T) {
	store := newStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := fakeRepo{session: domain.Session{ID: 4, Players: playersOf(2)}}
	d := distributor.New(repo, store, log)

	lobbies, err := d.Distribute(context.Background(), 4, 5, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, lobbies, 1)

	ctx := context.Background()
	members, err := store.SMembers(ctx, hotstore.LobbyIndexKey(4))
	require.NoError(t, err)
	require.Len(t, members, 1)

	blob, err := store.Get(ctx, hotstore.LobbyKey(4, 1))
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	for _, p := range lobbies[0].Players {
		exists, err := store.Exists(ctx, hotstore.PlayerStatusKey(1, p.WalletAddress))
		require.NoError(t, err)
		require.True(t, exists)
	}
}
