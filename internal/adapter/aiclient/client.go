// Package aiclient implements the AIClient port (C2): the HTTP surface to
// the external decision oracle described in spec.md §4.2 and §6.
package aiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
	"github.com/kairoslabs/session-orchestrator/internal/observability"
)

func init() {
	// Offline BPE loader: avoids a network fetch for the encoding tables at
	// runtime, same rationale as the teacher's tokencount setup.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Client implements domain.AIClient against the decision oracle's HTTP API.
// It never retries internally (spec.md §4.2): "Callers decide fallback
// semantics."
type Client struct {
	baseURL string
	hc      *http.Client
}

// New constructs a Client with a per-call deadline enforced via http.Client.Timeout
// and context, and otelhttp instrumentation on the transport (teacher idiom:
// internal/adapter/ai/real/client.go wraps its outbound calls the same way).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type roundAnnouncementResponse struct {
	Data string `json:"data"`
}

// RoundAnnouncement requests the round topic for agentID/roundNumber.
func (c *Client) RoundAnnouncement(ctx domain.Context, agentID string, roundNumber int) (string, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/%s/roundAnnouncement/%d", c.baseURL, agentID, roundNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		observability.AICallsTotal.WithLabelValues("round_announcement", "request_error").Inc()
		return "", fmt.Errorf("op=aiclient.round_announcement.build_request: %w", domain.ErrInvalidArgument)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		observability.AICallsTotal.WithLabelValues("round_announcement", classifyNetErr(err)).Inc()
		return "", fmt.Errorf("op=aiclient.round_announcement.do: %w", wrapNetErr(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.AICallsTotal.WithLabelValues("round_announcement", "non_2xx").Inc()
		return "", fmt.Errorf("op=aiclient.round_announcement.status: %w: status=%d", domain.ErrUpstreamFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.AICallsTotal.WithLabelValues("round_announcement", "decode_error").Inc()
		return "", fmt.Errorf("op=aiclient.round_announcement.read_body: %w", domain.ErrUpstreamFailure)
	}
	var parsed roundAnnouncementResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		observability.AICallsTotal.WithLabelValues("round_announcement", "decode_error").Inc()
		return "", fmt.Errorf("op=aiclient.round_announcement.unmarshal: %w", domain.ErrUpstreamFailure)
	}

	observability.AICallsTotal.WithLabelValues("round_announcement", "ok").Inc()
	observability.AIResponseTokensEstimate.WithLabelValues("round_announcement").Observe(float64(estimateTokenCount(parsed.Data)))
	_ = start
	return parsed.Data, nil
}

type decideEliminationsRequest struct {
	AgentID      string `json:"agentId"`
	SessionID    int64  `json:"sessionId"`
	LobbyID      int    `json:"lobbyId"`
	MaxRounds    int    `json:"maxRounds"`
	CurrentRound int    `json:"currentRound"`
}

type eliminationEntry struct {
	Participant string `json:"participant"`
	Reason      string `json:"reason,omitempty"`
}

type decideEliminationsResponse struct {
	Response []eliminationEntry `json:"response"`
	Success  bool               `json:"success"`
}

// DecideEliminations requests the eliminated wallets for a lobby.
func (c *Client) DecideEliminations(ctx domain.Context, agentID string, sessionID int64, lobbyID int, maxRounds, currentRound int) ([]domain.EliminationDecision, error) {
	reqBody, err := json.Marshal(decideEliminationsRequest{
		AgentID:      agentID,
		SessionID:    sessionID,
		LobbyID:      lobbyID,
		MaxRounds:    maxRounds,
		CurrentRound: currentRound,
	})
	if err != nil {
		observability.AICallsTotal.WithLabelValues("decide_eliminations", "request_error").Inc()
		return nil, fmt.Errorf("op=aiclient.decide_eliminations.marshal: %w", domain.ErrInvalidArgument)
	}

	url := c.baseURL + "/decideEliminations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		observability.AICallsTotal.WithLabelValues("decide_eliminations", "request_error").Inc()
		return nil, fmt.Errorf("op=aiclient.decide_eliminations.build_request: %w", domain.ErrInvalidArgument)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		observability.AICallsTotal.WithLabelValues("decide_eliminations", classifyNetErr(err)).Inc()
		return nil, fmt.Errorf("op=aiclient.decide_eliminations.do: %w", wrapNetErr(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.AICallsTotal.WithLabelValues("decide_eliminations", "non_2xx").Inc()
		return nil, fmt.Errorf("op=aiclient.decide_eliminations.status: %w: status=%d", domain.ErrUpstreamFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.AICallsTotal.WithLabelValues("decide_eliminations", "decode_error").Inc()
		return nil, fmt.Errorf("op=aiclient.decide_eliminations.read_body: %w", domain.ErrUpstreamFailure)
	}
	var parsed decideEliminationsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		observability.AICallsTotal.WithLabelValues("decide_eliminations", "decode_error").Inc()
		return nil, fmt.Errorf("op=aiclient.decide_eliminations.unmarshal: %w", domain.ErrUpstreamFailure)
	}
	if !parsed.Success {
		observability.AICallsTotal.WithLabelValues("decide_eliminations", "unsuccessful").Inc()
		return nil, fmt.Errorf("op=aiclient.decide_eliminations.unsuccessful: %w", domain.ErrUpstreamFailure)
	}

	out := make([]domain.EliminationDecision, len(parsed.Response))
	totalTokens := 0
	for i, e := range parsed.Response {
		out[i] = domain.EliminationDecision{Participant: e.Participant, Reason: e.Reason}
		totalTokens += estimateTokenCount(e.Reason)
	}
	observability.AICallsTotal.WithLabelValues("decide_eliminations", "ok").Inc()
	observability.AIResponseTokensEstimate.WithLabelValues("decide_eliminations").Observe(float64(totalTokens))
	return out, nil
}

// estimateTokenCount estimates token usage via cl100k_base, used only to
// feed the observability histogram; a zero return on encoder failure is
// harmless (it is not used for any budget decision).
func estimateTokenCount(text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

func classifyNetErr(err error) string {
	if ctxErr := asDeadlineExceeded(err); ctxErr {
		return "timeout"
	}
	return "network_error"
}

func wrapNetErr(err error) error {
	if asDeadlineExceeded(err) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
}
