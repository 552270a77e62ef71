package aiclient

import (
	"time"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// Stub is a fast, deterministic AIClient for local development and tests,
// matching the teacher's ai/stub/client.go role.
type Stub struct {
	// Topic is returned by every RoundAnnouncement call.
	Topic string
	// Eliminate lists the wallets DecideEliminations returns for every lobby.
	Eliminate []string
	// Fail, when true, makes both calls return domain.ErrUpstreamFailure.
	Fail bool
}

// NewStub constructs a Stub with a default topic and no eliminations.
func NewStub() *Stub {
	return &Stub{Topic: "What would you do with the prize?"}
}

func (s *Stub) RoundAnnouncement(_ domain.Context, _ string, _ int) (string, error) {
	time.Sleep(5 * time.Millisecond)
	if s.Fail {
		return "", domain.ErrUpstreamFailure
	}
	return s.Topic, nil
}

func (s *Stub) DecideEliminations(_ domain.Context, _ string, _ int64, _ int, _, _ int) ([]domain.EliminationDecision, error) {
	time.Sleep(5 * time.Millisecond)
	if s.Fail {
		return nil, domain.ErrUpstreamFailure
	}
	out := make([]domain.EliminationDecision, len(s.Eliminate))
	for i, w := range s.Eliminate {
		out[i] = domain.EliminationDecision{Participant: w, Reason: "low engagement"}
	}
	return out, nil
}
