package phase

import (
	"log/slog"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/timeline"
)

// sessionStart purges any stale hot state for the session, loads its
// registered players, and hands them to the distributor. With no players
// registered, lobby creation is skipped (spec.md §4.9).
func (d *Dispatcher) sessionStart(ctx domain.Context, session domain.Session, evt timeline.Event) error {
	if err := d.Lobbies.PurgeSession(ctx, session.ID); err != nil {
		d.Log.ErrorContext(ctx, "session start: scoped cleanup failed", slog.Int64("session_id", session.ID), slog.Any("error", err))
	}

	if len(session.Players) == 0 {
		d.Log.WarnContext(ctx, "session start: no registered players, skipping lobby creation", slog.Int64("session_id", session.ID))
		d.Broadcaster.Publish(ctx, "sessions", "session-start", map[string]any{"sessionId": session.ID, "startTime": session.StartTime})
		return nil
	}

	if _, err := d.Distributor.Distribute(ctx, session.ID, d.MaxPerLobby, evt.Time); err != nil {
		return err
	}

	d.Broadcaster.Publish(ctx, "sessions", "session-start", map[string]any{"sessionId": session.ID, "startTime": session.StartTime})
	return nil
}
