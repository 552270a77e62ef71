// Package broadcaster implements the Broadcaster port (C3): fire-and-forget
// fan-out of named events on named channels over the hot store's pub/sub.
package broadcaster

import (
	"encoding/json"
	"log/slog"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/observability"
)

// event is the wire envelope published on every channel: a named event with
// an arbitrary JSON payload (spec.md §6).
type event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Broadcaster publishes events through a domain.HotStore. Publish is called
// synchronously by the caller so that successive calls on the same channel
// from a single goroutine are delivered in order, matching spec.md §4.3's
// ordering guarantee; it never returns an error because failures must never
// propagate out of a phase handler.
type Broadcaster struct {
	store domain.HotStore
}

// New constructs a Broadcaster over the given hot store.
func New(store domain.HotStore) *Broadcaster {
	return &Broadcaster{store: store}
}

// Publish marshals payload, publishes it on channel, and logs (but never
// returns) any failure.
func (b *Broadcaster) Publish(ctx domain.Context, channel, eventName string, payload any) {
	lg := observability.LoggerFromContext(ctx)

	body, err := json.Marshal(event{Event: eventName, Payload: payload})
	if err != nil {
		lg.Error("broadcast marshal failed", slog.String("channel", channel), slog.String("event", eventName), slog.Any("error", err))
		observability.BroadcastsTotal.WithLabelValues(channel, "marshal_error").Inc()
		return
	}

	if err := b.store.Publish(ctx, channel, body); err != nil {
		lg.Error("broadcast publish failed", slog.String("channel", channel), slog.String("event", eventName), slog.Any("error", err))
		observability.BroadcastsTotal.WithLabelValues(channel, "publish_error").Inc()
		return
	}
	observability.BroadcastsTotal.WithLabelValues(channel, "ok").Inc()
	lg.Debug("broadcast published", slog.String("channel", channel), slog.String("event", eventName))
}
