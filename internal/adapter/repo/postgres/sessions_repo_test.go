package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/repo/postgres"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// fakeRow and fakeRows are hand-rolled stand-ins for pgx.Row/pgx.Rows, kept
// minimal on purpose: spec.md requires no mutation of sessions/rounds/players,
// so the repository only ever needs QueryRow and Query, never a transaction.

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type sessionRow struct {
	id, entryFee                        int64
	name                                string
	maxPlayers, totalRounds             int
	startTime, endTime, createdAt       time.Time
}

func scanInto(s sessionRow, dest ...any) error {
	*(dest[0].(*int64)) = s.id
	*(dest[1].(*string)) = s.name
	*(dest[2].(*int64)) = s.entryFee
	*(dest[3].(*int)) = s.maxPlayers
	*(dest[4].(*int)) = s.totalRounds
	*(dest[5].(*time.Time)) = s.startTime
	*(dest[6].(*time.Time)) = s.endTime
	*(dest[7].(*time.Time)) = s.createdAt
	return nil
}

type fakeRound struct {
	id, sessionID                                                            int64
	sequence                                                                 int
	aiStart, aiEnd, start, end, elimStart, elimEnd, voteStart, voteEnd time.Time
}

type fakePlayer struct {
	id, sessionID int64
	wallet        string
	joinedAt      time.Time
	status        string
	roundsPlayed  int
}

type fakeRows struct {
	idx   int
	kind  string // "rounds" or "players"
	rnds  []fakeRound
	plyrs []fakePlayer
	err   error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                               { return nil }

func (r *fakeRows) Next() bool {
	switch r.kind {
	case "rounds":
		return r.idx < len(r.rnds)
	case "players":
		return r.idx < len(r.plyrs)
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	switch r.kind {
	case "rounds":
		rnd := r.rnds[r.idx]
		r.idx++
		*(dest[0].(*int64)) = rnd.id
		*(dest[1].(*int64)) = rnd.sessionID
		*(dest[2].(*int)) = rnd.sequence
		*(dest[3].(*time.Time)) = rnd.aiStart
		*(dest[4].(*time.Time)) = rnd.aiEnd
		*(dest[5].(*time.Time)) = rnd.start
		*(dest[6].(*time.Time)) = rnd.end
		*(dest[7].(*time.Time)) = rnd.elimStart
		*(dest[8].(*time.Time)) = rnd.elimEnd
		*(dest[9].(*time.Time)) = rnd.voteStart
		*(dest[10].(*time.Time)) = rnd.voteEnd
	case "players":
		p := r.plyrs[r.idx]
		r.idx++
		*(dest[0].(*int64)) = p.id
		*(dest[1].(*int64)) = p.sessionID
		*(dest[2].(*string)) = p.wallet
		*(dest[3].(*time.Time)) = p.joinedAt
		*(dest[4].(*string)) = p.status
		*(dest[5].(*int)) = p.roundsPlayed
	}
	return nil
}

type fakePool struct {
	row        sessionRow
	rowErr     error
	rounds     []fakeRound
	players    []fakePlayer
	queryErr   error
}

func (p *fakePool) QueryRow(_ domain.Context, _ string, _ ...any) pgx.Row {
	if p.rowErr != nil {
		return fakeRow{scan: func(dest ...any) error { return p.rowErr }}
	}
	return fakeRow{scan: func(dest ...any) error { return scanInto(p.row, dest...) }}
}

func (p *fakePool) Query(_ domain.Context, sql string, _ ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if containsFold(sql, "FROM rounds") {
		return &fakeRows{kind: "rounds", rnds: p.rounds}, nil
	}
	return &fakeRows{kind: "players", plyrs: p.players}, nil
}

func containsFold(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if equalFold(s[i:i+len(sub)], sub) {
				return true
			}
		}
		return false
	})()
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func TestSessionRepo_ActiveSession(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	pool := &fakePool{row: sessionRow{
		id: 1, name: "Evening Round", entryFee: 100, maxPlayers: 50, totalRounds: 3,
		startTime: now.Add(-time.Hour), endTime: now.Add(time.Hour), createdAt: now.Add(-48 * time.Hour),
	}}
	repo := postgres.NewSessionRepo(pool)

	s, err := repo.ActiveSession(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.ID)
	assert.Equal(t, "Evening Round", s.Name)
	assert.Equal(t, time.UTC, s.StartTime.Location())
}

func TestSessionRepo_ActiveSession_NotFound(t *testing.T) {
	pool := &fakePool{rowErr: pgx.ErrNoRows}
	repo := postgres.NewSessionRepo(pool)

	_, err := repo.ActiveSession(context.Background(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepo_NextSession_WrapsUnknownError(t *testing.T) {
	pool := &fakePool{rowErr: errors.New("connection reset")}
	repo := postgres.NewSessionRepo(pool)

	_, err := repo.NextSession(context.Background(), time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepo_SessionByID_LoadsRoundsAndPlayersInOrder(t *testing.T) {
	base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	pool := &fakePool{
		row: sessionRow{id: 7, name: "Grand Final", entryFee: 500, maxPlayers: 20, totalRounds: 2, startTime: base, endTime: base.Add(2 * time.Hour), createdAt: base.Add(-time.Hour)},
		rounds: []fakeRound{
			{id: 1, sessionID: 7, sequence: 1, aiStart: base, aiEnd: base.Add(time.Minute)},
			{id: 2, sessionID: 7, sequence: 2, aiStart: base.Add(time.Hour), aiEnd: base.Add(time.Hour + time.Minute)},
		},
		players: []fakePlayer{
			{id: 1, sessionID: 7, wallet: "0xA", joinedAt: base.Add(-30 * time.Minute), status: "active", roundsPlayed: 0},
			{id: 2, sessionID: 7, wallet: "0xB", joinedAt: base.Add(-20 * time.Minute), status: "active", roundsPlayed: 0},
		},
	}
	repo := postgres.NewSessionRepo(pool)

	s, err := repo.SessionByID(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, s.Rounds, 2)
	assert.Equal(t, 1, s.Rounds[0].Sequence)
	assert.Equal(t, 2, s.Rounds[1].Sequence)
	require.Len(t, s.Players, 2)
	assert.Equal(t, "0xA", s.Players[0].WalletAddress)
	assert.Equal(t, domain.PlayerActive, s.Players[0].Status)
}
