// Package postgres provides the relational store adapter (C5): read-only
// queries over the authoritative sessions/rounds/players schema.
package postgres

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// validate enforces the Session/Round/Player struct invariants declared via
// `validate` tags in internal/domain/entities.go. The relational store is
// the trust boundary where these rows enter the rest of the system, so
// invariant violations (e.g. a round's elimination_end before its
// elimination_start) are caught here rather than surfacing as confusing
// downstream timeline bugs.
var validate = validator.New()

// PgxPool is the minimal pgx surface the session repository needs —
// read-only, since the worker never mutates Session or Round (spec.md §3
// "Ownership"). Keeping the interface narrow makes it trivial to fake in
// tests without a real database or a third-party mock library.
type PgxPool interface {
	Query(ctx domain.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx domain.Context, sql string, args ...any) pgx.Row
}

// SessionRepo implements domain.SessionRepository over PgxPool.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

const sessionColumns = `id, name, entry_fee, max_players, total_rounds, start_time, end_time, created_at`

func validateSession(s domain.Session) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err)
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	if err := row.Scan(&s.ID, &s.Name, &s.EntryFee, &s.MaxPlayers, &s.TotalRounds, &s.StartTime, &s.EndTime, &s.CreatedAt); err != nil {
		return domain.Session{}, err
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

// ActiveSession returns the session with start <= now < end. Per spec.md §3,
// "if several overlap, the worker picks one deterministically — earliest
// start", enforced here via ORDER BY start_time ASC LIMIT 1.
func (r *SessionRepo) ActiveSession(ctx domain.Context, now time.Time) (domain.Session, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.ActiveSession")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "sessions"))

	q := fmt.Sprintf(`SELECT %s FROM sessions WHERE start_time <= $1 AND end_time > $1 ORDER BY start_time ASC LIMIT 1`, sessionColumns)
	row := r.Pool.QueryRow(ctx, q, now.UTC())
	s, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Session{}, fmt.Errorf("op=sessions.active_session: %w", domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("op=sessions.active_session: %w", err)
	}
	if err := validateSession(s); err != nil {
		return domain.Session{}, fmt.Errorf("op=sessions.active_session: %w", err)
	}
	return s, nil
}

// NextSession returns the soonest session with start > now.
func (r *SessionRepo) NextSession(ctx domain.Context, now time.Time) (domain.Session, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.NextSession")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "sessions"))

	q := fmt.Sprintf(`SELECT %s FROM sessions WHERE start_time > $1 ORDER BY start_time ASC LIMIT 1`, sessionColumns)
	row := r.Pool.QueryRow(ctx, q, now.UTC())
	s, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Session{}, fmt.Errorf("op=sessions.next_session: %w", domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("op=sessions.next_session: %w", err)
	}
	if err := validateSession(s); err != nil {
		return domain.Session{}, fmt.Errorf("op=sessions.next_session: %w", err)
	}
	return s, nil
}

// SessionByID loads a full session including its rounds (ordered by
// sequence) and its registered players (ordered by joined_at).
func (r *SessionRepo) SessionByID(ctx domain.Context, id int64) (domain.Session, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.SessionByID")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "sessions"), attribute.Int64("session.id", id))

	q := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	row := r.Pool.QueryRow(ctx, q, id)
	s, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Session{}, fmt.Errorf("op=sessions.session_by_id: %w", domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("op=sessions.session_by_id: %w", err)
	}

	rounds, err := r.roundsForSession(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("op=sessions.session_by_id.rounds: %w", err)
	}
	s.Rounds = rounds

	players, err := r.playersForSession(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("op=sessions.session_by_id.players: %w", err)
	}
	s.Players = players

	if err := validateSession(s); err != nil {
		return domain.Session{}, fmt.Errorf("op=sessions.session_by_id: %w", err)
	}

	return s, nil
}

func (r *SessionRepo) roundsForSession(ctx domain.Context, sessionID int64) ([]domain.Round, error) {
	q := `SELECT id, session_id, sequence, ai_message_start, ai_message_end, start_time, end_time,
	       elimination_start, elimination_end, voting_start_time, voting_end_time
	       FROM rounds WHERE session_id = $1 ORDER BY sequence ASC`
	rows, err := r.Pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		var rnd domain.Round
		if err := rows.Scan(&rnd.ID, &rnd.SessionID, &rnd.Sequence, &rnd.AIMessageStart, &rnd.AIMessageEnd,
			&rnd.StartTime, &rnd.EndTime, &rnd.EliminationStart, &rnd.EliminationEnd,
			&rnd.VotingStartTime, &rnd.VotingEndTime); err != nil {
			return nil, err
		}
		rounds = append(rounds, toUTCRound(rnd))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Sequence < rounds[j].Sequence })
	return rounds, nil
}

func toUTCRound(r domain.Round) domain.Round {
	r.AIMessageStart = r.AIMessageStart.UTC()
	r.AIMessageEnd = r.AIMessageEnd.UTC()
	r.StartTime = r.StartTime.UTC()
	r.EndTime = r.EndTime.UTC()
	r.EliminationStart = r.EliminationStart.UTC()
	r.EliminationEnd = r.EliminationEnd.UTC()
	r.VotingStartTime = r.VotingStartTime.UTC()
	r.VotingEndTime = r.VotingEndTime.UTC()
	return r
}

func (r *SessionRepo) playersForSession(ctx domain.Context, sessionID int64) ([]domain.Player, error) {
	q := `SELECT id, session_id, wallet_address, joined_at, status, total_rounds_played
	       FROM players WHERE session_id = $1 ORDER BY joined_at ASC`
	rows, err := r.Pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		var p domain.Player
		var status string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.WalletAddress, &p.JoinedAt, &status, &p.RoundsPlayed); err != nil {
			return nil, err
		}
		p.Status = domain.PlayerStatus(status)
		p.JoinedAt = p.JoinedAt.UTC()
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return players, nil
}
