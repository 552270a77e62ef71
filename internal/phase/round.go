package phase

import "github.com/kairoslabs/session-orchestrator/internal/domain"

// roundStart announces the round's active window. No state mutation.
func (d *Dispatcher) roundStart(ctx domain.Context, session domain.Session, round domain.Round) error {
	d.Broadcaster.Publish(ctx, "rounds", "round-start", map[string]any{
		"sessionId":   session.ID,
		"roundNumber": round.Sequence,
		"startTime":   round.StartTime,
	})
	return nil
}

// roundEnd closes the round's active window. Elimination is deferred to
// ELIMINATION_START (spec.md §4.9).
func (d *Dispatcher) roundEnd(ctx domain.Context, session domain.Session, round domain.Round) error {
	d.Broadcaster.Publish(ctx, "sessions", "round-end", map[string]any{
		"sessionId":   session.ID,
		"roundNumber": round.Sequence,
	})
	return nil
}
