// Package lobby implements the lobby manager (C6): the layer above the hot
// store that owns the ephemeral, per-session lobby partitions described in
// spec.md §4.6.
package lobby

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// Manager implements the lobby operations over a domain.HotStore.
type Manager struct {
	store domain.HotStore
	log   *slog.Logger
}

// New constructs a Manager.
func New(store domain.HotStore, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

var tracer = otel.Tracer("lobby.manager")

// CreateLobby stores a new lobby, idempotently: if the key already exists,
// it logs and returns without overwriting (spec.md §4.6, §7 "Calling
// create_lobby twice with the same arguments leaves the stored lobby blob
// unchanged after the second call").
func (m *Manager) CreateLobby(ctx domain.Context, sessionID int64, lobbyID int, players []domain.LobbyPlayer, now time.Time) error {
	_, span := tracer.Start(ctx, "lobby.CreateLobby")
	defer span.End()
	span.SetAttributes(attribute.Int64("session.id", sessionID), attribute.Int("lobby.id", lobbyID))

	key := hotstore.LobbyKey(sessionID, lobbyID)
	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("op=lobby.create_lobby.exists: %w", err)
	}
	if exists {
		m.log.InfoContext(ctx, "lobby already exists, skipping create", slog.Int64("session_id", sessionID), slog.Int("lobby_id", lobbyID))
		return nil
	}

	lobby := domain.Lobby{
		ID:        lobbyID,
		SessionID: sessionID,
		Players:   players,
		CreatedAt: now,
		Status:    domain.LobbyActive,
	}
	if err := m.writeLobby(ctx, key, lobby); err != nil {
		return fmt.Errorf("op=lobby.create_lobby.write: %w", err)
	}
	if err := m.store.SAdd(ctx, hotstore.LobbyIndexKey(sessionID), key); err != nil {
		return fmt.Errorf("op=lobby.create_lobby.index: %w", err)
	}
	return nil
}

func (m *Manager) writeLobby(ctx domain.Context, key string, lobby domain.Lobby) error {
	blob, err := json.Marshal(lobby)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return m.store.Set(ctx, key, blob)
}

// GetLobby reads and decodes a single lobby.
func (m *Manager) GetLobby(ctx domain.Context, sessionID int64, lobbyID int) (domain.Lobby, error) {
	_, span := tracer.Start(ctx, "lobby.GetLobby")
	defer span.End()

	key := hotstore.LobbyKey(sessionID, lobbyID)
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return domain.Lobby{}, fmt.Errorf("op=lobby.get_lobby: %w", err)
	}
	var lobby domain.Lobby
	if err := json.Unmarshal(raw, &lobby); err != nil {
		return domain.Lobby{}, fmt.Errorf("op=lobby.get_lobby.unmarshal: %w: %v", domain.ErrInternal, err)
	}
	return lobby, nil
}

// GetAllLobbies reads the lobby index set and dereferences each key; missing
// or corrupt entries are skipped with a warning, per spec.md §4.6.
func (m *Manager) GetAllLobbies(ctx domain.Context, sessionID int64) ([]domain.Lobby, error) {
	_, span := tracer.Start(ctx, "lobby.GetAllLobbies")
	defer span.End()

	keys, err := m.store.SMembers(ctx, hotstore.LobbyIndexKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("op=lobby.get_all_lobbies.index: %w", err)
	}

	lobbies := make([]domain.Lobby, 0, len(keys))
	for _, key := range keys {
		raw, err := m.store.Get(ctx, key)
		if err != nil {
			m.log.WarnContext(ctx, "skipping missing lobby entry", slog.String("key", key), slog.Any("error", err))
			continue
		}
		var lobby domain.Lobby
		if err := json.Unmarshal(raw, &lobby); err != nil {
			m.log.WarnContext(ctx, "skipping corrupt lobby entry", slog.String("key", key), slog.Any("error", err))
			continue
		}
		lobbies = append(lobbies, lobby)
	}
	return lobbies, nil
}

// GetActiveLobbies returns the subset of GetAllLobbies whose Status is active.
func (m *Manager) GetActiveLobbies(ctx domain.Context, sessionID int64) ([]domain.Lobby, error) {
	all, err := m.GetAllLobbies(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	active := make([]domain.Lobby, 0, len(all))
	for _, lobby := range all {
		if lobby.Status == domain.LobbyActive {
			active = append(active, lobby)
		}
	}
	return active, nil
}

// UpdateLobby fully replaces the stored lobby blob.
func (m *Manager) UpdateLobby(ctx domain.Context, sessionID int64, lobbyID int, lobby domain.Lobby) error {
	_, span := tracer.Start(ctx, "lobby.UpdateLobby")
	defer span.End()

	if err := m.writeLobby(ctx, hotstore.LobbyKey(sessionID, lobbyID), lobby); err != nil {
		return fmt.Errorf("op=lobby.update_lobby: %w", err)
	}
	return nil
}

// UpdateLobbyStatus does a read/modify/write of a lobby's status, failing
// with domain.ErrNotFound if the lobby is missing.
func (m *Manager) UpdateLobbyStatus(ctx domain.Context, sessionID int64, lobbyID int, status domain.LobbyStatus) error {
	_, span := tracer.Start(ctx, "lobby.UpdateLobbyStatus")
	defer span.End()

	lobby, err := m.GetLobby(ctx, sessionID, lobbyID)
	if err != nil {
		return fmt.Errorf("op=lobby.update_lobby_status.read: %w", err)
	}
	lobby.Status = status
	if err := m.writeLobby(ctx, hotstore.LobbyKey(sessionID, lobbyID), lobby); err != nil {
		return fmt.Errorf("op=lobby.update_lobby_status.write: %w", err)
	}
	return nil
}

// GetVotingResults reads the raw vote list for (session, lobby, round) and
// tallies it into a domain.VoteTally.
func (m *Manager) GetVotingResults(ctx domain.Context, sessionID int64, lobbyID int, round int) (domain.VoteTally, error) {
	_, span := tracer.Start(ctx, "lobby.GetVotingResults")
	defer span.End()

	raw, err := m.store.LRange(ctx, hotstore.VotesKey(sessionID, lobbyID, round))
	if err != nil {
		return domain.VoteTally{}, fmt.Errorf("op=lobby.get_voting_results: %w", err)
	}

	var tally domain.VoteTally
	for _, entry := range raw {
		switch domain.VoteChoice(entry) {
		case domain.VoteContinue:
			tally.Continue++
		case domain.VoteShare:
			tally.Share++
		default:
			m.log.WarnContext(ctx, "unrecognized vote choice, ignoring", slog.String("value", string(entry)))
		}
	}
	return tally, nil
}

// PurgeSession deletes every hot-store key belonging to sessionID: the lobby
// blobs and index and the per-(session,round,lobby) topic and vote-tally
// keys are covered by prefix deletes, and the cached player set by a direct
// delete. Elimination
// records, player-status blobs, and forum messages are keyed only by lobby
// id, not session id (spec.md §4.4), and lobby ids are renumbered 1..N per
// session, so those are enumerated and deleted per-lobby before the lobby
// index itself is gone; otherwise a future session reusing the same lobby
// id would inherit the previous session's leftover elimination list.
func (m *Manager) PurgeSession(ctx domain.Context, sessionID int64) error {
	_, span := tracer.Start(ctx, "lobby.PurgeSession")
	defer span.End()
	span.SetAttributes(attribute.Int64("session.id", sessionID))

	lobbies, err := m.GetAllLobbies(ctx, sessionID)
	if err != nil {
		m.log.WarnContext(ctx, "purge session: failed to enumerate lobbies before cleanup", slog.Int64("session_id", sessionID), slog.Any("error", err))
	}
	for _, lb := range lobbies {
		keys := []string{hotstore.EliminationKey(lb.ID), hotstore.ForumMessagesKey(lb.ID)}
		for _, p := range lb.Players {
			keys = append(keys, hotstore.PlayerStatusKey(lb.ID, p.WalletAddress))
		}
		if err := m.store.Del(ctx, keys...); err != nil {
			m.log.WarnContext(ctx, "purge session: failed to delete per-lobby keys", slog.Int("lobby_id", lb.ID), slog.Any("error", err))
		}
	}

	if err := m.store.DeleteByPrefix(ctx, hotstore.SessionPrefix(sessionID)); err != nil {
		return fmt.Errorf("op=lobby.purge_session.lobbies: %w", err)
	}
	if err := m.store.Del(ctx, hotstore.SessionPlayersKey(sessionID)); err != nil {
		m.log.WarnContext(ctx, "purge session: failed to delete player cache", slog.Int64("session_id", sessionID), slog.Any("error", err))
	}
	if err := m.store.DeleteByPrefix(ctx, hotstore.VotingPrefix(sessionID)); err != nil {
		m.log.WarnContext(ctx, "purge session: failed to clear voting prefix", slog.Int64("session_id", sessionID), slog.Any("error", err))
	}
	if err := m.store.DeleteByPrefix(ctx, hotstore.TopicPrefix(sessionID)); err != nil {
		m.log.WarnContext(ctx, "purge session: failed to clear topic prefix", slog.Int64("session_id", sessionID), slog.Any("error", err))
	}
	return nil
}

// GetRemainingPlayers returns the lobby's non-eliminated players, or an empty
// slice if the lobby is not active (spec.md §4.6).
func (m *Manager) GetRemainingPlayers(ctx domain.Context, sessionID int64, lobbyID int) ([]domain.LobbyPlayer, error) {
	lobby, err := m.GetLobby(ctx, sessionID, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("op=lobby.get_remaining_players: %w", err)
	}
	if lobby.Status != domain.LobbyActive {
		return []domain.LobbyPlayer{}, nil
	}
	return lobby.RemainingActive(), nil
}
