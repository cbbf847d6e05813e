package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voxlane/voicebridge/pkg/provider"
)

// Ticket is the fallback artifact when no live transfer happens.
type Ticket struct {
	TenantID     string                     `json:"tenant_id"`
	CallID       string                     `json:"call_id"`
	Caller       string                     `json:"caller,omitempty"`
	Reason       Reason                     `json:"reason"`
	Subject      string                     `json:"subject"`
	Summary      string                     `json:"summary"`
	Transcript   []provider.TranscriptEntry `json:"transcript"`
	RecordingURL string                     `json:"recording_url,omitempty"`
}

// TicketClient files tickets with the external ticketing API.
type TicketClient interface {
	CreateTicket(ctx context.Context, t Ticket) (id string, err error)
}

// HTTPTicketing posts tickets to the external ticketing API.
type HTTPTicketing struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPTicketing builds a ticketing client with a tenant-scoped bearer
// token.
func NewHTTPTicketing(baseURL, token string, timeout time.Duration) *HTTPTicketing {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTicketing{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateTicket implements TicketClient.
func (t *HTTPTicketing) CreateTicket(ctx context.Context, ticket Ticket) (string, error) {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/tickets", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create ticket: status %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("ticket response: %w", err)
	}
	return body.ID, nil
}

// summarize builds a short deterministic summary from a transcript. The
// first caller utterance usually states the issue; the tail shows where the
// conversation ended up.
func summarize(transcript []provider.TranscriptEntry, reason Reason) string {
	var first, last string
	callerTurns := 0
	for _, e := range transcript {
		if e.Role != "caller" || strings.TrimSpace(e.Text) == "" {
			continue
		}
		callerTurns++
		if first == "" {
			first = strings.TrimSpace(e.Text)
		}
		last = strings.TrimSpace(e.Text)
	}

	switch {
	case first == "":
		return fmt.Sprintf("Call escalated (%s) before the caller said anything transcribable.", reason)
	case callerTurns == 1:
		return fmt.Sprintf("Caller said: %q. Escalated (%s) after 1 turn.", first, reason)
	default:
		return fmt.Sprintf("Caller opened with: %q. Last caller turn: %q. Escalated (%s) after %d caller turns.",
			first, last, reason, callerTurns)
	}
}
