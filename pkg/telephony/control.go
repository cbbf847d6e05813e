package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChannelMode selects which call legs a media stream carries.
type ChannelMode string

const (
	ChannelInbound ChannelMode = "inbound"
	ChannelBoth    ChannelMode = "both"
)

// ControlClient is the imperative command API of the telephony call-control
// plane. The bridge is a client of this interface; the PBX implements it.
type ControlClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewControlClient builds a client for the control plane at baseURL using a
// tenant-scoped bearer token. Timeout bounds every command.
func NewControlClient(baseURL, token string, timeout time.Duration) *ControlClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ControlClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Start asks the PBX to begin streaming a call's audio to streamURL.
func (c *ControlClient) Start(ctx context.Context, callID, streamURL string, mode ChannelMode, sampleRate int) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/stream/start", callID), map[string]any{
		"stream_url":   streamURL,
		"channel_mode": string(mode),
		"sample_rate":  sampleRate,
	})
}

// Stop ends the media stream for a call.
func (c *ControlClient) Stop(ctx context.Context, callID string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/stream/stop", callID), nil)
}

// Hold parks the caller with hold treatment while a transfer is arranged.
func (c *ControlClient) Hold(ctx context.Context, callID string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/hold", callID), nil)
}

// Transfer originates a call to destination and hands the caller over.
func (c *ControlClient) Transfer(ctx context.Context, callID, destination string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/transfer", callID), map[string]any{
		"destination": destination,
	})
}

// Bridge joins two existing legs.
func (c *ControlClient) Bridge(ctx context.Context, legA, legB string) error {
	return c.post(ctx, "/calls/bridge", map[string]any{
		"leg_a": legA,
		"leg_b": legB,
	})
}

// BroadcastAudio plays a pre-rendered audio file into a leg (transfer
// announcements, hold messages).
func (c *ControlClient) BroadcastAudio(ctx context.Context, callID, fileURL string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/broadcast", callID), map[string]any{
		"file_url": fileURL,
	})
}

func (c *ControlClient) post(ctx context.Context, path string, body map[string]any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony control %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telephony control %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
