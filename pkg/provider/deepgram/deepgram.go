// Package deepgram adapts the Deepgram Voice Agent API to the provider
// session protocol. The websocket carries caller audio as raw binary frames
// and agent audio back the same way; control and transcript traffic is JSON
// text frames. Turn detection is always server-side with this provider.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/provider"
)

const (
	// DefaultModel is the listen (STT) model when the tenant names none.
	DefaultModel = "nova-3"

	defaultBaseURL = "wss://agent.deepgram.com/v1/agent/converse"
	defaultVoice   = "aura-2-thalia-en"

	eventBuffer  = 256
	writeTimeout = 5 * time.Second
)

var (
	inFormat  = audio.Format{Encoding: audio.EncodingPCM16, SampleRateHz: 16000, Channels: 1}
	outFormat = audio.Format{Encoding: audio.EncodingPCM16, SampleRateHz: 24000, Channels: 1}
)

// Adapter is one agent conversation.
type Adapter struct {
	cfg    provider.Config
	events chan provider.Event
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	closeOnce sync.Once
}

// New builds an unconnected adapter for cfg.
func New(cfg provider.Config) *Adapter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	return &Adapter{
		cfg:    cfg,
		events: make(chan provider.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (a *Adapter) Type() provider.Type               { return provider.TypeDeepgramAgent }
func (a *Adapter) Format() (in, out audio.Format)    { return inFormat, outFormat }
func (a *Adapter) MaxSessionDuration() time.Duration { return 0 }
func (a *Adapter) Events() <-chan provider.Event     { return a.events }

// Connect dials the agent endpoint and sends the settings frame.
func (a *Adapter) Connect(ctx context.Context) error {
	timeout := a.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = provider.DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+a.cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, a.cfg.BaseURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("deepgram dial (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("deepgram dial: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	if err := a.writeJSON(a.settings()); err != nil {
		_ = conn.Close()
		return fmt.Errorf("deepgram settings: %w", err)
	}

	go a.readLoop()
	return nil
}

func (a *Adapter) settings() map[string]any {
	language := a.cfg.Language
	if language == "" {
		language = "en"
	}
	agent := map[string]any{
		"language": language,
		"listen": map[string]any{
			"provider": map[string]any{"type": "deepgram", "model": a.cfg.Model},
		},
		"speak": map[string]any{
			"provider": map[string]any{"type": "deepgram", "model": a.cfg.Voice},
		},
	}
	think := map[string]any{
		"provider": map[string]any{"type": "open_ai", "model": "gpt-4o-mini"},
	}
	if a.cfg.Instructions != "" {
		think["prompt"] = a.cfg.Instructions
	}
	agent["think"] = think

	settings := map[string]any{
		"type": "Settings",
		"audio": map[string]any{
			"input": map[string]any{
				"encoding":    "linear16",
				"sample_rate": inFormat.SampleRateHz,
			},
			"output": map[string]any{
				"encoding":    "linear16",
				"sample_rate": outFormat.SampleRateHz,
			},
		},
		"agent": agent,
	}
	if len(a.cfg.History) > 0 {
		messages := make([]map[string]any, 0, len(a.cfg.History))
		for _, entry := range a.cfg.History {
			role := "user"
			if entry.Role == "agent" {
				role = "assistant"
			}
			messages = append(messages, map[string]any{
				"type":    "History",
				"role":    role,
				"content": entry.Text,
			})
		}
		settings["context"] = map[string]any{"messages": messages}
	}
	return settings
}

// SendAudio forwards one caller frame as a binary websocket message.
func (a *Adapter) SendAudio(pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		return provider.ErrClosed
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := a.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("deepgram write audio: %w", err)
	}
	return nil
}

// SendControl translates generic controls. The agent protocol has no
// explicit cancel or commit; the server interrupts on caller speech and
// segments turns itself, so those are acknowledged without wire traffic.
func (a *Adapter) SendControl(ctl provider.Control) error {
	switch c := ctl.(type) {
	case provider.CancelControl, provider.CommitControl:
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed || a.conn == nil {
			return provider.ErrClosed
		}
		return nil
	case provider.SpeakControl:
		return a.writeJSON(map[string]any{
			"type":    "InjectAgentMessage",
			"message": c.Text,
		})
	default:
		return fmt.Errorf("deepgram: unsupported control %T", ctl)
	}
}

// Close tears down the connection. The read loop notices and closes Events.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.mu.Lock()
		a.closed = true
		conn := a.conn
		a.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
	})
	return nil
}

func (a *Adapter) writeJSON(msg map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		return provider.ErrClosed
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := a.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("deepgram write: %w", err)
	}
	return nil
}

// serverMessage is the subset of agent text frames the bridge consumes.
type serverMessage struct {
	Type        string `json:"type"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

func (a *Adapter) readLoop() {
	defer close(a.events)
	for {
		messageType, data, err := a.conn.ReadMessage()
		if err != nil {
			select {
			case <-a.done:
			default:
				a.emit(provider.ErrorEvent{
					Err:   fmt.Errorf("deepgram read: %w: %w", err, provider.ErrFatal),
					Fatal: true,
				})
			}
			return
		}
		if messageType == websocket.BinaryMessage {
			if len(data) > 0 {
				a.emit(provider.AudioEvent{Data: data})
			}
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		a.dispatch(msg)
	}
}

func (a *Adapter) dispatch(msg serverMessage) {
	switch msg.Type {
	case "ConversationText":
		role := "agent"
		if msg.Role == "user" {
			role = "caller"
		}
		a.emit(provider.TranscriptEvent{Role: role, Text: msg.Content, Final: true})
	case "UserStartedSpeaking":
		a.emit(provider.SpeechStartedEvent{})
	case "AgentThinking":
		a.emit(provider.SpeechStoppedEvent{})
	case "AgentStartedSpeaking":
		a.emit(provider.TurnStartedEvent{})
	case "AgentAudioDone":
		a.emit(provider.TurnDoneEvent{})
	case "Error":
		a.emit(provider.ErrorEvent{
			Err:   fmt.Errorf("deepgram error %s: %s: %w", msg.Code, msg.Description, provider.ErrFatal),
			Fatal: true,
		})
	}
}

func (a *Adapter) emit(ev provider.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}
