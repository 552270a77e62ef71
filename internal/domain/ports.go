package domain

import "time"

//go:generate mockery --name=SessionRepository --with-expecter --filename=session_repository_mock.go
//go:generate mockery --name=HotStore --with-expecter --filename=hot_store_mock.go
//go:generate mockery --name=AIClient --with-expecter --filename=aiclient_mock.go
//go:generate mockery --name=Broadcaster --with-expecter --filename=broadcaster_mock.go
//go:generate mockery --name=Clock --with-expecter --filename=clock_mock.go

// SessionRepository is the read-only authoritative store (C5). The worker
// never mutates a Session or Round through this port; it only reads them.
type SessionRepository interface {
	// ActiveSession returns the session with start <= now < end, or
	// ErrNotFound if none is active.
	ActiveSession(ctx Context, now time.Time) (Session, error)
	// NextSession returns the soonest session with start > now, or
	// ErrNotFound if none is scheduled.
	NextSession(ctx Context, now time.Time) (Session, error)
	// SessionByID loads a full session including its rounds (ordered by
	// sequence) and its registered players (ordered by joined_at).
	SessionByID(ctx Context, id int64) (Session, error)
}

// HotStore is the hot key/value + pub/sub service (C4). Adapters implement
// this against Redis; the key schema is specified in spec.md §4.4.
type HotStore interface {
	// Get returns the raw blob stored at key, or ErrNotFound.
	Get(ctx Context, key string) ([]byte, error)
	// Set stores a raw blob at key with no expiry.
	Set(ctx Context, key string, value []byte) error
	// Del removes one or more keys. Missing keys are not an error.
	Del(ctx Context, keys ...string) error
	// Exists reports whether key is present.
	Exists(ctx Context, key string) (bool, error)

	// SAdd adds members to the set at key.
	SAdd(ctx Context, key string, members ...string) error
	// SMembers returns all members of the set at key.
	SMembers(ctx Context, key string) ([]string, error)

	// RPush appends a value to the list at key.
	RPush(ctx Context, key string, value []byte) error
	// LRange returns the full list at key.
	LRange(ctx Context, key string) ([][]byte, error)

	// DeleteByPrefix removes every key matching prefix+"*" (scoped cleanup,
	// used in place of a blanket flushAll; spec.md §9 Open Questions).
	DeleteByPrefix(ctx Context, prefix string) error

	// Publish fires an at-least-once, fire-and-forget message on channel.
	Publish(ctx Context, channel string, payload []byte) error
	// Subscribe blocks until a message arrives on channel or ctx is done,
	// returning the first message payload received.
	Subscribe(ctx Context, channel string) ([]byte, error)
}

// AIClient abstracts the external decision oracle (C2).
type AIClient interface {
	// RoundAnnouncement requests the round topic for agentID/roundNumber.
	RoundAnnouncement(ctx Context, agentID string, roundNumber int) (string, error)
	// DecideEliminations requests the eliminated wallets for a lobby.
	DecideEliminations(ctx Context, agentID string, sessionID int64, lobbyID int, maxRounds, currentRound int) ([]EliminationDecision, error)
}

// Broadcaster fans events out to end-user clients (C3).
type Broadcaster interface {
	// Publish is fire-and-forget: failures are logged, never propagated.
	// Ordering is preserved for successive calls on the same channel from
	// a single worker instance.
	Publish(ctx Context, channel, eventName string, payload any)
}

// Clock exposes cancellable wall-clock sleeps (C1).
type Clock interface {
	// SleepUntil returns when t is reached or ctx is cancelled, whichever first.
	SleepUntil(ctx Context, t time.Time)
	// SleepFor returns when d has elapsed or ctx is cancelled, whichever first.
	SleepFor(ctx Context, d time.Duration)
	// Now returns the current wall-clock time.
	Now() time.Time
}
