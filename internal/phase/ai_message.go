package phase

import (
	"log/slog"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// fallbackTopic is published when the decision oracle fails to produce a
// round announcement (spec.md §4.9, §7 "failure to obtain an AI topic
// yields the literal fallback message").
const fallbackTopic = "Discuss your strategy!"

// aiMessageStart requests the round's topic once and caches it under every
// active lobby's per-(session,round,lobby) key (spec.md §9 resolves the
// inconsistent source caching key to this scheme). AI failure never aborts
// the phase; the fallback topic is used instead.
func (d *Dispatcher) aiMessageStart(ctx domain.Context, session domain.Session, round domain.Round) error {
	topic, err := d.AI.RoundAnnouncement(ctx, d.AgentID, round.Sequence)
	if err != nil {
		d.Log.WarnContext(ctx, "ai message start: round announcement failed, using fallback", slog.Int64("session_id", session.ID), slog.Int("round", round.Sequence), slog.Any("error", err))
		topic = fallbackTopic
	}

	lobbies, err := d.Lobbies.GetActiveLobbies(ctx, session.ID)
	if err != nil {
		d.Log.ErrorContext(ctx, "ai message start: failed to list active lobbies", slog.Any("error", err))
	}
	for _, lb := range lobbies {
		key := hotstore.TopicKey(session.ID, round.Sequence, lb.ID)
		if err := d.Store.Set(ctx, key, []byte(topic)); err != nil {
			d.Log.ErrorContext(ctx, "ai message start: failed to cache topic", slog.Int("lobby_id", lb.ID), slog.Any("error", err))
		}
	}

	d.Broadcaster.Publish(ctx, "rounds", "ai-message-start", map[string]any{"sessionId": session.ID, "round": round.Sequence, "topic": topic})
	return nil
}

// aiMessageEnd performs no state mutation; it only closes out the AI-message
// window with a broadcast (spec.md §4.9).
func (d *Dispatcher) aiMessageEnd(ctx domain.Context, session domain.Session, round domain.Round) error {
	d.Broadcaster.Publish(ctx, "rounds", "ai-message-end", map[string]any{"sessionId": session.ID, "roundNumber": round.Sequence, "message": "AI message window closed"})
	return nil
}
