package phase

import (
	"log/slog"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/timeline"
)

// sessionEnd announces the session's close, signals completion on the
// fixed sessions channel, and purges every hot-store key scoped to the
// session (spec.md §4.9).
func (d *Dispatcher) sessionEnd(ctx domain.Context, session domain.Session, evt timeline.Event) error {
	d.Broadcaster.Publish(ctx, "sessions", "session-end", map[string]any{"sessionId": session.ID, "endTime": session.EndTime})

	if err := d.Store.Publish(ctx, hotstore.SessionsChannel, []byte("SESSION_END")); err != nil {
		d.Log.ErrorContext(ctx, "session end: failed to signal SESSION_END", slog.Int64("session_id", session.ID), slog.Any("error", err))
	}

	if err := d.Lobbies.PurgeSession(ctx, session.ID); err != nil {
		d.Log.ErrorContext(ctx, "session end: scoped cleanup failed", slog.Int64("session_id", session.ID), slog.Any("error", err))
	}
	return nil
}
