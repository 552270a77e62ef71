package selector_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/selector"
)

type fakeRepo struct {
	active, next domain.Session
	hasActive    bool
	hasNext      bool
	byID         map[int64]domain.Session
}

func (f fakeRepo) ActiveSession(domain.Context, time.Time) (domain.Session, error) {
	if f.hasActive {
		return f.active, nil
	}
	return domain.Session{}, domain.ErrNotFound
}

func (f fakeRepo) NextSession(domain.Context, time.Time) (domain.Session, error) {
	if f.hasNext {
		return f.next, nil
	}
	return domain.Session{}, domain.ErrNotFound
}

func (f fakeRepo) SessionByID(_ domain.Context, id int64) (domain.Session, error) {
	if s, ok := f.byID[id]; ok {
		return s, nil
	}
	return domain.Session{}, domain.ErrNotFound
}

func newStore(t *testing.T) domain.HotStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return hotstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPick_PrefersActiveOverNext(t *testing.T) {
	repo := fakeRepo{active: domain.Session{ID: 1}, hasActive: true, next: domain.Session{ID: 2}, hasNext: true}
	sel := selector.New(repo, newStore(t), time.Second, testLogger())

	session, err := sel.Pick(context.Background(), map[int64]bool{})
	require.NoError(t, err)
	require.Equal(t, int64(1), session.ID)
}

func TestPick_SkipsCompletedActiveFallsBackToNext(t *testing.T) {
	repo := fakeRepo{active: domain.Session{ID: 1}, hasActive: true, next: domain.Session{ID: 2}, hasNext: true}
	sel := selector.New(repo, newStore(t), time.Second, testLogger())

	session, err := sel.Pick(context.Background(), map[int64]bool{1: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), session.ID)
}

func TestPick_BlocksOnNewSessionChannel(t *testing.T) {
	store := newStore(t)
	repo := fakeRepo{byID: map[int64]domain.Session{99: {ID: 99}}}
	sel := selector.New(repo, store, time.Second, testLogger())

	done := make(chan struct{})
	var got domain.Session
	var gotErr error
	go func() {
		got, gotErr = sel.Pick(context.Background(), map[int64]bool{})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	payload, _ := json.Marshal(map[string]int64{"sessionId": 99})
	require.NoError(t, store.Publish(context.Background(), hotstore.NewSessionChannel, payload))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Pick to return")
	}
	require.NoError(t, gotErr)
	require.Equal(t, int64(99), got.ID)
}

func TestPick_ReturnsErrorOnContextCancel(t *testing.T) {
	store := newStore(t)
	repo := fakeRepo{}
	sel := selector.New(repo, store, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var gotErr error
	go func() {
		_, gotErr = sel.Pick(ctx, map[int64]bool{})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Pick to return after cancel")
	}
	require.Error(t, gotErr)
}
