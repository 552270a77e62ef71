package phase_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/distributor"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/lobby"
	"github.com/kairoslabs/session-orchestrator/internal/phase"
	"github.com/kairoslabs/session-orchestrator/internal/timeline"
)

type recordedEvent struct {
	Channel string
	Event   string
	Payload any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingBroadcaster) Publish(_ domain.Context, channel, eventName string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Channel: channel, Event: eventName, Payload: payload})
}

func (r *recordingBroadcaster) find(event string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Event == event {
			return e, true
		}
	}
	return recordedEvent{}, false
}

type fakeAI struct {
	mu         sync.Mutex
	topic      string
	failTopic  bool
	eliminate  map[int][]string // lobbyID -> wallets
	failLobbies map[int]bool
}

func (f *fakeAI) RoundAnnouncement(domain.Context, string, int) (string, error) {
	if f.failTopic {
		return "", domain.ErrUpstreamFailure
	}
	return f.topic, nil
}

func (f *fakeAI) DecideEliminations(_ domain.Context, _ string, _ int64, lobbyID int, _, _ int) ([]domain.EliminationDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLobbies[lobbyID] {
		return nil, domain.ErrUpstreamFailure
	}
	wallets := f.eliminate[lobbyID]
	decisions := make([]domain.EliminationDecision, len(wallets))
	for i, w := range wallets {
		decisions[i] = domain.EliminationDecision{Participant: w, Reason: "low engagement"}
	}
	return decisions, nil
}

type fakeRepo struct{ session domain.Session }

func (f fakeRepo) ActiveSession(domain.Context, time.Time) (domain.Session, error) { return domain.Session{}, domain.ErrNotFound }
func (f fakeRepo) NextSession(domain.Context, time.Time) (domain.Session, error)   { return domain.Session{}, domain.ErrNotFound }
func (f fakeRepo) SessionByID(_ domain.Context, id int64) (domain.Session, error) {
	if id != f.session.ID {
		return domain.Session{}, domain.ErrNotFound
	}
	return f.session, nil
}

func newTestDispatcher(t *testing.T, session domain.Session, ai *fakeAI) (*phase.Dispatcher, *recordingBroadcaster, domain.HotStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := hotstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := &recordingBroadcaster{}
	lm := lobby.New(store, log)
	dist := distributor.New(fakeRepo{session: session}, store, log)

	d := &phase.Dispatcher{
		Store:       store,
		Broadcaster: bc,
		AI:          ai,
		Lobbies:     lm,
		Distributor: dist,
		AgentID:     "agent-1",
		FanOut:      4,
		MaxPerLobby: 10,
		Log:         log,
	}
	return d, bc, store
}

func threePlayerSession() domain.Session {
	return domain.Session{
		ID:          1,
		TotalRounds: 1,
		Players: []domain.Player{
			{WalletAddress: "0xA", Status: domain.PlayerActive},
			{WalletAddress: "0xB", Status: domain.PlayerActive},
			{WalletAddress: "0xC", Status: domain.PlayerActive},
		},
		Rounds: []domain.Round{{Sequence: 1}},
	}
}

func TestDispatch_SessionStart_CreatesLobbyAndBroadcasts(t *testing.T) {
	session := threePlayerSession()
	d, bc, store := newTestDispatcher(t, session, &fakeAI{})
	ctx := context.Background()

	err := d.Dispatch(ctx, session, timeline.Event{Type: timeline.SessionStart, Time: time.Now()})
	require.NoError(t, err)

	lobbies, err := d.Lobbies.GetActiveLobbies(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, lobbies, 1)
	require.Len(t, lobbies[0].Players, 3)

	_, found := bc.find("session-start")
	assert.True(t, found)
	_ = store
}

func TestDispatch_SessionStart_NoPlayersSkipsLobbyCreation(t *testing.T) {
	session := threePlayerSession()
	session.Players = nil
	d, bc, _ := newTestDispatcher(t, session, &fakeAI{})
	ctx := context.Background()

	err := d.Dispatch(ctx, session, timeline.Event{Type: timeline.SessionStart, Time: time.Now()})
	require.NoError(t, err)

	lobbies, err := d.Lobbies.GetAllLobbies(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, lobbies)
	_, found := bc.find("session-start")
	assert.True(t, found)
}

func TestDispatch_AIMessageStart_FallsBackOnFailure(t *testing.T) {
	session := threePlayerSession()
	ai := &fakeAI{failTopic: true}
	d, bc, _ := newTestDispatcher(t, session, ai)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, session, timeline.Event{Type: timeline.SessionStart, Time: time.Now()}))
	require.NoError(t, d.Dispatch(ctx, session, timeline.Event{Type: timeline.AIMessageStart, RoundNumber: 1}))

	evt, found := bc.find("ai-message-start")
	require.True(t, found)
	payload := evt.Payload.(map[string]any)
	assert.Equal(t, "Discuss your strategy!", payload["topic"])
}

func TestDispatch_EliminationStart_PartialFailureLeavesOtherLobbyUnchanged(t *testing.T) {
	session := domain.Session{
		ID:          2,
		TotalRounds: 1,
		Rounds:      []domain.Round{{Sequence: 1}},
		Players: func() []domain.Player {
			players := make([]domain.Player, 0, 20)
			for i := 0; i < 20; i++ {
				players = append(players, domain.Player{WalletAddress: fmt.Sprintf("0xP%d", i), Status: domain.PlayerActive})
			}
			return players
		}(),
	}
	ai := &fakeAI{eliminate: map[int][]string{}, failLobbies: map[int]bool{1: true}}
	d, bc, _ := newTestDispatcher(t, session, ai)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, session, timeline.Event{Type: timeline.SessionStart, Time: time.Now()}))
	lobbies, err := d.Lobbies.GetActiveLobbies(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, lobbies, 2)

	var failingLobby, otherLobby domain.Lobby
	for _, lb := range lobbies {
		if lb.ID == 1 {
			failingLobby = lb
		} else {
			otherLobby = lb
		}
	}
	ai.eliminate[otherLobby.ID] = []string{otherLobby.Players[0].WalletAddress}

	require.NoError(t, d.Dispatch(ctx, session, timeline.Event{Type: timeline.EliminationStart, RoundNumber: 1}))

	afterFailing, err := d.Lobbies.GetLobby(ctx, session.ID, failingLobby.ID)
	require.NoError(t, err)
	assert.Equal(t, len(afterFailing.Players), len(afterFailing.RemainingActive()), "failed lobby should be unchanged")

	afterOther, err := d.Lobbies.GetLobby(ctx, session.ID, otherLobby.ID)
	require.NoError(t, err)
	assert.Less(t, len(afterOther.RemainingActive()), len(afterOther.Players), "succeeding lobby should have one elimination")

	_, found := bc.find("elimination-start")
	assert.True(t, found)
}

func TestDispatch_VotingEnd_TieGoesToContinueAndClearsVotes(t *testing.T) {
	session := threePlayerSession()
	d, bc, store := newTestDispatcher(t, session, &fakeAI{})
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, session, timeline.Event{Type: timeline.SessionStart, Time: time.Now()}))
	lobbies, err := d.Lobbies.GetActiveLobbies(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, lobbies, 1)
	lobbyID := lobbies[0].ID

	require.NoError(t, store.RPush(ctx, hotstore.VotesKey(session.ID, lobbyID, 1), []byte("continue")))
	require.NoError(t, store.RPush(ctx, hotstore.VotesKey(session.ID, lobbyID, 1), []byte("share")))

	require.NoError(t, d.Dispatch(ctx, session, timeline.Event{Type: timeline.VotingEnd, RoundNumber: 1}))

	evt, found := bc.find("voting-result")
	require.True(t, found)
	payload := evt.Payload.(map[string]any)
	assert.Equal(t, "continue", payload["result"])

	remaining, err := store.LRange(ctx, hotstore.VotesKey(session.ID, lobbyID, 1))
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDispatch_SessionEnd_PurgesHotState(t *testing.T) {
	session := threePlayerSession()
	d, bc, store := newTestDispatcher(t, session, &fakeAI{})
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, session, timeline.Event{Type: timeline.SessionStart, Time: time.Now()}))
	require.NoError(t, d.Dispatch(ctx, session, timeline.Event{Type: timeline.SessionEnd, Time: time.Now()}))

	lobbies, err := store.SMembers(ctx, hotstore.LobbyIndexKey(session.ID))
	require.NoError(t, err)
	assert.Empty(t, lobbies)
	_, found := bc.find("session-end")
	assert.True(t, found)
}
