package hotstore

import "fmt"

// Key schema, authoritative per spec.md §4.4.

// LobbyKey is the JSON blob for a single lobby.
func LobbyKey(sessionID int64, lobbyID int) string {
	return fmt.Sprintf("lobby:session:%d:lobby:%d", sessionID, lobbyID)
}

// LobbyIndexKey is the set of lobby keys for a session.
func LobbyIndexKey(sessionID int64) string {
	return fmt.Sprintf("lobby:session:%d:lobbies", sessionID)
}

// SessionPlayersKey is the cached set of registered wallets for a session.
func SessionPlayersKey(sessionID int64) string {
	return fmt.Sprintf("session:%d:players", sessionID)
}

// PlayerStatusKey is the per-player, per-lobby status blob, keyed by the bare
// lobby id per spec.md §4.4's `lobby:{L}:player:{W}` (not the full lobby
// blob key, which already carries a "lobby:" prefix of its own).
func PlayerStatusKey(lobbyID int, wallet string) string {
	return fmt.Sprintf("lobby:%d:player:%s", lobbyID, wallet)
}

// ForumMessagesKey is the list of forum messages posted in a lobby.
func ForumMessagesKey(lobbyID int) string {
	return fmt.Sprintf("forum:lobby:%d:messages", lobbyID)
}

// VotesKey is the list of raw vote choices for a (session, lobby, round).
func VotesKey(sessionID int64, lobbyID int, round int) string {
	return fmt.Sprintf("voting:session:%d:lobby:%d:round:%d", sessionID, lobbyID, round)
}

// VotingPrefix scopes every VotesKey belonging to a session, used by scoped
// session cleanup since VotesKey's session component isn't a prefix of
// SessionPrefix's "lobby:session:{S}:" pattern.
func VotingPrefix(sessionID int64) string {
	return fmt.Sprintf("voting:session:%d:", sessionID)
}

// TopicKey is the cached AI-generated topic, scoped per (session, round,
// lobby) per spec.md §9's Open Question resolution.
func TopicKey(sessionID int64, round int, lobbyID int) string {
	return fmt.Sprintf("topic:session:%d:round:%d:lobby:%d", sessionID, round, lobbyID)
}

// TopicPrefix scopes every TopicKey belonging to a session, for the same
// reason as VotingPrefix.
func TopicPrefix(sessionID int64) string {
	return fmt.Sprintf("topic:session:%d:", sessionID)
}

// EliminationKey is the list of eliminated wallets recorded for a lobby.
func EliminationKey(lobbyID int) string {
	return fmt.Sprintf("elimination:lobby:%d", lobbyID)
}

// SessionPrefix scopes every hot-store key belonging to a session, used for
// scoped cleanup at SESSION_START/SESSION_END.
func SessionPrefix(sessionID int64) string {
	return fmt.Sprintf("lobby:session:%d:", sessionID)
}

// NewSessionChannel is the inbound pub/sub channel for session-creation events.
const NewSessionChannel = "new-session"

// SessionsChannel and RoundsChannel are the two fixed broadcast-back channels.
const (
	SessionsChannel = "sessions"
	RoundsChannel   = "rounds"
)

// LobbyChannel is the per-lobby broadcast channel name.
func LobbyChannel(lobbyID int) string {
	return fmt.Sprintf("lobby-%d", lobbyID)
}
