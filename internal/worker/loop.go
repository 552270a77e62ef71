// Package worker implements the worker loop (C11): the top-level driver
// that repeatedly selects a session and monitors it to completion, per
// spec.md §4.11.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/leaderlease"
	"github.com/kairoslabs/session-orchestrator/internal/observability"
	"github.com/kairoslabs/session-orchestrator/internal/phase"
	"github.com/kairoslabs/session-orchestrator/internal/selector"
	"github.com/kairoslabs/session-orchestrator/internal/timeline"
)

var tracer = otel.Tracer("worker")

// Worker drives the top-level select-then-monitor loop.
type Worker struct {
	Selector   *selector.Selector
	Dispatcher *phase.Dispatcher
	Clock      domain.Clock
	Log        *slog.Logger

	// LeaseFactory, when set, yields a per-session mutual-exclusion lease
	// (spec.md §9's optional leader-election hook). Leave nil for the
	// default singleton-worker deployment.
	LeaseFactory   func(sessionID int64) *leaderlease.Lease
	LeaseRenewTTL  time.Duration
	leaseWaitDelay time.Duration

	completed map[int64]bool
}

// New constructs a Worker with no leasing (the default singleton deployment).
func New(sel *selector.Selector, dispatcher *phase.Dispatcher, clock domain.Clock, log *slog.Logger) *Worker {
	return &Worker{
		Selector:       sel,
		Dispatcher:     dispatcher,
		Clock:          clock,
		Log:            log,
		completed:      make(map[int64]bool),
		leaseWaitDelay: time.Second,
	}
}

// WithLease enables the optional leader-election lease: Run will only
// dispatch phase handlers for a session while holding its lease, retrying
// acquisition until it succeeds or ctx is cancelled.
func (w *Worker) WithLease(factory func(sessionID int64) *leaderlease.Lease, renewInterval time.Duration) *Worker {
	w.LeaseFactory = factory
	w.LeaseRenewTTL = renewInterval
	return w
}

// Run drives the worker until ctx is cancelled.
func (w *Worker) Run(ctx domain.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		session, err := w.Selector.Pick(ctx, w.completed)
		if err != nil {
			return err
		}
		if w.completed[session.ID] {
			continue
		}

		sessionCtx, stop, err := w.acquireLease(ctx, session.ID)
		if err != nil {
			return err
		}

		monitorErr := w.monitor(sessionCtx, session)
		stop()
		if monitorErr != nil {
			w.Log.ErrorContext(ctx, "worker: session monitoring ended with error", slog.Int64("session_id", session.ID), slog.Any("error", monitorErr))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.completed[session.ID] = true
	}
}

// acquireLease blocks until this instance holds the session's lease (when
// leasing is enabled) and returns a derived context that is cancelled if the
// lease is later lost, plus a stop func releasing the lease and background
// renewal goroutine. With no LeaseFactory set, it is a no-op: the returned
// context is ctx itself and stop does nothing.
func (w *Worker) acquireLease(ctx domain.Context, sessionID int64) (domain.Context, func(), error) {
	if w.LeaseFactory == nil {
		return ctx, func() {}, nil
	}

	lease := w.LeaseFactory(sessionID)
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		ok, err := lease.Acquire(ctx)
		if err != nil {
			w.Log.WarnContext(ctx, "worker: lease acquisition attempt failed, retrying", slog.Int64("session_id", sessionID), slog.Any("error", err))
		} else if ok {
			break
		}
		w.Clock.SleepFor(ctx, w.leaseWaitDelay)
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	lost := make(chan struct{}, 1)
	go lease.RenewPeriodically(leaseCtx, w.LeaseRenewTTL, lost)
	go func() {
		select {
		case <-lost:
			w.Log.WarnContext(ctx, "worker: lost session lease, halting dispatch", slog.Int64("session_id", sessionID))
			cancel()
		case <-leaseCtx.Done():
		}
	}()

	stop := func() {
		cancel()
		if err := lease.Release(ctx); err != nil {
			w.Log.WarnContext(ctx, "worker: lease release failed", slog.Int64("session_id", sessionID), slog.Any("error", err))
		}
	}
	return leaseCtx, stop, nil
}

// monitor drives a single session's timeline to completion. It is
// restart-safe: next_event is a pure function of the session timeline and
// the current wall clock, so events already in the past are skipped
// (spec.md §4.11).
func (w *Worker) monitor(ctx domain.Context, session domain.Session) error {
	for {
		evt, ok := timeline.NextEvent(timeline.Session{
			StartTime: session.StartTime,
			EndTime:   session.EndTime,
			Rounds:    toTimelineRounds(session.Rounds),
		}, w.Clock.Now())
		if !ok {
			return nil
		}

		observability.SecondsUntilNextEvent.Set(evt.Time.Sub(w.Clock.Now()).Seconds())
		w.Clock.SleepUntil(ctx, evt.Time)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dispatchID := ulid.Make().String()
		dctx := observability.ContextWithDispatchID(ctx, dispatchID)

		start := w.Clock.Now()
		if err := w.Dispatcher.Dispatch(dctx, session, evt); err != nil {
			w.Log.ErrorContext(dctx, "worker: phase dispatch failed", slog.Int64("session_id", session.ID), slog.String("phase", evt.Type.String()), slog.Any("error", err))
		}
		observability.PhaseDispatchedTotal.WithLabelValues(evt.Type.String()).Inc()
		observability.PhaseDispatchLatencySeconds.WithLabelValues(evt.Type.String()).Observe(w.Clock.Now().Sub(start).Seconds())

		if evt.Type == timeline.SessionEnd {
			return nil
		}
	}
}

func toTimelineRounds(rounds []domain.Round) []timeline.Round {
	out := make([]timeline.Round, len(rounds))
	for i, r := range rounds {
		out[i] = timeline.Round{
			Sequence:         r.Sequence,
			AIMessageStart:   r.AIMessageStart,
			AIMessageEnd:     r.AIMessageEnd,
			StartTime:        r.StartTime,
			EndTime:          r.EndTime,
			EliminationStart: r.EliminationStart,
			EliminationEnd:   r.EliminationEnd,
			VotingStartTime:  r.VotingStartTime,
			VotingEndTime:    r.VotingEndTime,
		}
	}
	return out
}
