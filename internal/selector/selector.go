// Package selector implements the session selector (C10): repeatedly
// choosing the next session for the worker to monitor, per spec.md §4.10.
package selector

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

var tracer = otel.Tracer("selector")

// Selector picks the session the worker should monitor next.
type Selector struct {
	Repo         domain.SessionRepository
	Store        domain.HotStore
	PollInterval time.Duration
	Log          *slog.Logger
}

// New constructs a Selector.
func New(repo domain.SessionRepository, store domain.HotStore, pollInterval time.Duration, log *slog.Logger) *Selector {
	return &Selector{Repo: repo, Store: store, PollInterval: pollInterval, Log: log}
}

// Pick asks C5 for the active session, then the next scheduled one,
// preferring active. Both nil/ErrNotFound means it subscribes to the
// new-session channel and blocks. Any candidate already in completed is
// skipped and the search continues. Pick returns when ctx is cancelled.
func (s *Selector) Pick(ctx domain.Context, completed map[int64]bool) (domain.Session, error) {
	ctx, span := tracer.Start(ctx, "selector.Pick")
	defer span.End()

	for {
		if session, ok, err := s.tryActiveOrNext(ctx, completed); err != nil {
			return domain.Session{}, err
		} else if ok {
			return session, nil
		}

		session, err := s.waitForNewSession(ctx, completed)
		if err != nil {
			return domain.Session{}, err
		}
		if session.ID != 0 {
			return session, nil
		}
		// New-session notification matched a completed session; keep looping.
	}
}

func (s *Selector) tryActiveOrNext(ctx domain.Context, completed map[int64]bool) (domain.Session, bool, error) {
	now := time.Now().UTC()

	if active, err := s.Repo.ActiveSession(ctx, now); err == nil {
		if !completed[active.ID] {
			return active, true, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, false, err
	}

	if next, err := s.Repo.NextSession(ctx, now); err == nil {
		if !completed[next.ID] {
			return next, true, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, false, err
	}

	return domain.Session{}, false, nil
}

type newSessionNotification struct {
	SessionID int64 `json:"sessionId"`
}

// waitForNewSession blocks on the new-session channel. A zero-value Session
// (ID 0) with a nil error means the received notification named a session
// already in completed, and the caller should loop.
func (s *Selector) waitForNewSession(ctx domain.Context, completed map[int64]bool) (domain.Session, error) {
	payload, err := s.Store.Subscribe(ctx, hotstore.NewSessionChannel)
	if err != nil {
		return domain.Session{}, err
	}

	var notif newSessionNotification
	if err := json.Unmarshal(payload, &notif); err != nil {
		s.Log.WarnContext(ctx, "selector: malformed new-session notification", slog.Any("error", err))
		return domain.Session{}, nil
	}
	if completed[notif.SessionID] {
		return domain.Session{}, nil
	}

	session, err := s.Repo.SessionByID(ctx, notif.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}
