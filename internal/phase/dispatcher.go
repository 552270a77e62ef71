// Package phase implements the phase handlers (C9): the ten event-type
// reactions that drive a session's hot state and broadcasts, per spec.md
// §4.9.
package phase

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/kairoslabs/session-orchestrator/internal/distributor"
	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/lobby"
	"github.com/kairoslabs/session-orchestrator/internal/timeline"
)

var tracer = otel.Tracer("phase.dispatcher")

// Dispatcher owns every dependency a phase handler needs and routes a
// timeline.Event to the matching handler.
type Dispatcher struct {
	Store        domain.HotStore
	Broadcaster  domain.Broadcaster
	AI           domain.AIClient
	Lobbies      *lobby.Manager
	Distributor  *distributor.Distributor
	AgentID      string
	FanOut       int
	MaxPerLobby  int
	Log          *slog.Logger
}

// Dispatch routes evt to its handler. session must already carry its Rounds
// and Players (domain.SessionRepository.SessionByID).
func (d *Dispatcher) Dispatch(ctx domain.Context, session domain.Session, evt timeline.Event) error {
	ctx, span := tracer.Start(ctx, "phase.Dispatch")
	defer span.End()

	log := d.Log.With(slog.Int64("session_id", session.ID), slog.String("phase", evt.Type.String()), slog.Int("round", evt.RoundNumber))
	log.InfoContext(ctx, "dispatching phase")

	var round domain.Round
	if evt.RoundNumber > 0 {
		for _, r := range session.Rounds {
			if r.Sequence == evt.RoundNumber {
				round = r
				break
			}
		}
	}

	switch evt.Type {
	case timeline.SessionStart:
		return d.sessionStart(ctx, session, evt)
	case timeline.AIMessageStart:
		return d.aiMessageStart(ctx, session, round)
	case timeline.AIMessageEnd:
		return d.aiMessageEnd(ctx, session, round)
	case timeline.RoundStart:
		return d.roundStart(ctx, session, round)
	case timeline.RoundEnd:
		return d.roundEnd(ctx, session, round)
	case timeline.EliminationStart:
		return d.eliminationStart(ctx, session, round)
	case timeline.EliminationEnd:
		return d.eliminationEnd(ctx, session, round)
	case timeline.VotingStart:
		return d.votingStart(ctx, session, round)
	case timeline.VotingEnd:
		return d.votingEnd(ctx, session, round)
	case timeline.SessionEnd:
		return d.sessionEnd(ctx, session, evt)
	default:
		return fmt.Errorf("op=phase.dispatch: %w: unknown event type %v", domain.ErrInvalidArgument, evt.Type)
	}
}
