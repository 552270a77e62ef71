// Package timeline implements the timeline builder (C8): deriving the
// ordered set of scheduling events from a loaded session, and the pure
// next_event function the worker loop polls, per spec.md §4.8.
package timeline

import "time"

// EventType enumerates the phases the worker dispatches, in canonical
// tie-break order: when two events share a timestamp, the earlier one in
// this list fires first.
type EventType int

// Event types, in canonical tie-break order.
const (
	SessionStart EventType = iota
	AIMessageStart
	AIMessageEnd
	RoundStart
	RoundEnd
	EliminationStart
	EliminationEnd
	VotingStart
	VotingEnd
	SessionEnd
)

// String names an EventType for logging.
func (e EventType) String() string {
	switch e {
	case SessionStart:
		return "SESSION_START"
	case AIMessageStart:
		return "AI_MESSAGE_START"
	case AIMessageEnd:
		return "AI_MESSAGE_END"
	case RoundStart:
		return "ROUND_START"
	case RoundEnd:
		return "ROUND_END"
	case EliminationStart:
		return "ELIMINATION_START"
	case EliminationEnd:
		return "ELIMINATION_END"
	case VotingStart:
		return "VOTING_START"
	case VotingEnd:
		return "VOTING_END"
	case SessionEnd:
		return "SESSION_END"
	default:
		return "UNKNOWN"
	}
}

// Event is a single scheduled point on a session's timeline.
type Event struct {
	Type        EventType
	Time        time.Time
	RoundNumber int // 1-based; 0 for SESSION_START/SESSION_END
}

// Session is the minimal view of domain.Session the builder needs, kept
// local to avoid an import cycle and to make the builder trivially testable
// with hand-built fixtures.
type Session struct {
	StartTime time.Time
	EndTime   time.Time
	Rounds    []Round
}

// Round is the minimal view of domain.Round the builder needs.
type Round struct {
	Sequence         int
	AIMessageStart   time.Time
	AIMessageEnd     time.Time
	StartTime        time.Time
	EndTime          time.Time
	EliminationStart time.Time
	EliminationEnd   time.Time
	VotingStartTime  time.Time
	VotingEndTime    time.Time
}

// Build produces every event on the session's timeline, including
// SESSION_START only if now < session.StartTime (spec.md §4.8).
func Build(session Session, now time.Time) []Event {
	events := make([]Event, 0, 2+8*len(session.Rounds))
	if now.Before(session.StartTime) {
		events = append(events, Event{Type: SessionStart, Time: session.StartTime})
	}
	for _, r := range session.Rounds {
		events = append(events,
			Event{Type: AIMessageStart, Time: r.AIMessageStart, RoundNumber: r.Sequence},
			Event{Type: AIMessageEnd, Time: r.AIMessageEnd, RoundNumber: r.Sequence},
			Event{Type: RoundStart, Time: r.StartTime, RoundNumber: r.Sequence},
			Event{Type: RoundEnd, Time: r.EndTime, RoundNumber: r.Sequence},
			Event{Type: EliminationStart, Time: r.EliminationStart, RoundNumber: r.Sequence},
			Event{Type: EliminationEnd, Time: r.EliminationEnd, RoundNumber: r.Sequence},
			Event{Type: VotingStart, Time: r.VotingStartTime, RoundNumber: r.Sequence},
			Event{Type: VotingEnd, Time: r.VotingEndTime, RoundNumber: r.Sequence},
		)
	}
	events = append(events, Event{Type: SessionEnd, Time: session.EndTime})
	return events
}

// NextEvent returns the earliest event with Time > now, breaking ties by
// canonical phase order (and then by round sequence), or the zero Event and
// false if now >= session.EndTime.
func NextEvent(session Session, now time.Time) (Event, bool) {
	if !now.Before(session.EndTime) {
		return Event{}, false
	}

	events := Build(session, now)
	var best Event
	found := false
	for _, evt := range events {
		if !evt.Time.After(now) {
			continue
		}
		if !found {
			best, found = evt, true
			continue
		}
		if evt.Time.Before(best.Time) {
			best = evt
			continue
		}
		if evt.Time.Equal(best.Time) {
			if evt.Type < best.Type || (evt.Type == best.Type && evt.RoundNumber < best.RoundNumber) {
				best = evt
			}
		}
	}
	return best, found
}
