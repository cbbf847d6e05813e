package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Agent is one reachable human destination.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Destination string `json:"destination"`
}

// PresenceClient answers which human agents can take a call right now.
type PresenceClient interface {
	AvailableAgents(ctx context.Context, tenantID, queue string) ([]Agent, error)
}

// HTTPPresence queries the external agent-presence API.
type HTTPPresence struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPPresence builds a presence client with a tenant-scoped bearer token.
func NewHTTPPresence(baseURL, token string, timeout time.Duration) *HTTPPresence {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPresence{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// AvailableAgents implements PresenceClient.
func (p *HTTPPresence) AvailableAgents(ctx context.Context, tenantID, queue string) ([]Agent, error) {
	q := url.Values{"tenant_id": {tenantID}}
	if queue != "" {
		q.Set("queue", queue)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/agents/available?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("presence query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presence query: status %d", resp.StatusCode)
	}

	var body struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("presence response: %w", err)
	}
	return body.Agents, nil
}
