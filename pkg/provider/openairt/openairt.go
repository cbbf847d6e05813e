// Package openairt adapts the OpenAI Realtime API to the provider session
// protocol. The connection is a websocket carrying JSON events; audio flows
// base64-encoded as 16-bit PCM at 24 kHz in both directions.
package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/provider"
)

const (
	// DefaultModel is used when the tenant config names none.
	DefaultModel = "gpt-4o-realtime-preview"

	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultVoice   = "alloy"

	// Upstream caps realtime sessions at 30 minutes; reconnect before that.
	maxSessionDuration = 25 * time.Minute

	eventBuffer  = 256
	writeTimeout = 5 * time.Second
)

var wireFormat = audio.Format{Encoding: audio.EncodingPCM16, SampleRateHz: 24000, Channels: 1}

// Adapter is one realtime session. SendAudio and SendControl are called
// from the session loop; the read loop feeds Events until the connection
// drops.
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

func (a *Adapter) Type() provider.Type               { return provider.TypeOpenAIRealtime }
func (a *Adapter) Format() (in, out audio.Format)    { return wireFormat, wireFormat }
func (a *Adapter) MaxSessionDuration() time.Duration { return maxSessionDuration }
func (a *Adapter) Events() <-chan provider.Event     { return a.events }

// Connect dials the realtime endpoint, configures the session, and seeds
// conversation history before the read loop starts.
func (a *Adapter) Connect(ctx context.Context) error {
	timeout := a.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = provider.DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	endpoint := a.cfg.BaseURL + "?model=" + url.QueryEscape(a.cfg.Model)
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime dial (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime dial: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	if err := a.sendEvent(map[string]any{
		"type":    "session.update",
		"session": a.sessionConfig(),
	}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("realtime session.update: %w", err)
	}
	if err := a.seedHistory(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("realtime history: %w", err)
	}

	go a.readLoop()
	return nil
}

func (a *Adapter) sessionConfig() map[string]any {
	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"voice":               a.cfg.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
	}
	if a.cfg.Instructions != "" {
		session["instructions"] = a.cfg.Instructions
	}
	if a.cfg.TurnDetect.Mode == provider.TurnDetectServer {
		session["turn_detection"] = serverVAD(a.cfg.TurnDetect)
	} else {
		// Manual mode: the bridge segments turns and commits explicitly.
		session["turn_detection"] = nil
	}
	return session
}

// serverVAD maps the generic sensitivity profile onto the API's VAD knobs.
func serverVAD(td provider.TurnDetection) map[string]any {
	threshold := 0.5
	silenceMs := 600
	switch td.Sensitivity {
	case provider.SensitivityLow:
		threshold, silenceMs = 0.3, 900
	case provider.SensitivityHigh:
		threshold, silenceMs = 0.7, 350
	}
	if td.EnergyThreshold > 0 {
		threshold = td.EnergyThreshold
	}
	if td.SilenceDurationMs > 0 {
		silenceMs = td.SilenceDurationMs
	}
	return map[string]any{
		"type":                "server_vad",
		"threshold":           threshold,
		"silence_duration_ms": silenceMs,
	}
}

// seedHistory replays prior turns as conversation items so context survives
// fallback from another provider.
func (a *Adapter) seedHistory() error {
	for _, entry := range a.cfg.History {
		role := "user"
		contentType := "input_text"
		if entry.Role == "agent" {
			role = "assistant"
			contentType = "text"
		}
		err := a.sendEvent(map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type": "message",
				"role": role,
				"content": []map[string]any{
					{"type": contentType, "text": entry.Text},
				},
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SendAudio appends one caller frame to the input buffer.
func (a *Adapter) SendAudio(pcm []byte) error {
	return a.sendEvent(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendControl translates generic controls into realtime client events.
func (a *Adapter) SendControl(ctl provider.Control) error {
	switch c := ctl.(type) {
	case provider.CancelControl:
		return a.sendEvent(map[string]any{"type": "response.cancel"})
	case provider.CommitControl:
		if err := a.sendEvent(map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
			return err
		}
		return a.sendEvent(map[string]any{"type": "response.create"})
	case provider.SpeakControl:
		return a.sendEvent(map[string]any{
			"type": "response.create",
			"response": map[string]any{
				"modalities":   []string{"text", "audio"},
				"instructions": "Say exactly the following, with nothing added: " + c.Text,
			},
		})
	default:
		return fmt.Errorf("openairt: unsupported control %T", ctl)
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

func (a *Adapter) sendEvent(event map[string]any) error {
	event["event_id"] = "evt_" + uuid.NewString()[:12]

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		return provider.ErrClosed
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := a.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("realtime write: %w", err)
	}
	return nil
}

// serverEvent is the subset of realtime server events the bridge consumes.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Response   *struct {
		Status string `json:"status"`
	} `json:"response"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) readLoop() {
	defer close(a.events)
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			select {
			case <-a.done:
			default:
				a.emit(provider.ErrorEvent{
					Err:   fmt.Errorf("realtime read: %w: %w", err, provider.ErrFatal),
					Fatal: true,
				})
			}
			return
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		a.dispatch(ev)
	}
}

func (a *Adapter) dispatch(ev serverEvent) {
	switch ev.Type {
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		a.emit(provider.AudioEvent{Data: pcm})
	case "response.audio_transcript.done":
		a.emit(provider.TranscriptEvent{Role: "agent", Text: ev.Transcript, Final: true})
	case "conversation.item.input_audio_transcription.completed":
		a.emit(provider.TranscriptEvent{Role: "caller", Text: ev.Transcript, Final: true})
	case "input_audio_buffer.speech_started":
		a.emit(provider.SpeechStartedEvent{})
	case "input_audio_buffer.speech_stopped":
		a.emit(provider.SpeechStoppedEvent{})
	case "response.created":
		a.emit(provider.TurnStartedEvent{})
	case "response.done":
		interrupted := ev.Response != nil && ev.Response.Status == "cancelled"
		a.emit(provider.TurnDoneEvent{Interrupted: interrupted})
	case "response.function_call_arguments.done":
		a.emit(provider.ToolCallEvent{
			ID:   ev.CallID,
			Name: ev.Name,
			Args: json.RawMessage(ev.Arguments),
		})
	case "error":
		if ev.Error == nil {
			return
		}
		err := fmt.Errorf("realtime error %s: %s", ev.Error.Code, ev.Error.Message)
		if fatal := fatalErrorCode(ev.Error.Type, ev.Error.Code); fatal {
			a.emit(provider.ErrorEvent{Err: fmt.Errorf("%w: %w", err, provider.ErrFatal), Fatal: true})
		} else {
			a.emit(provider.ErrorEvent{Err: err})
		}
	}
}

// fatalErrorCode reports whether an API error ends the session. Validation
// slips (an empty commit, a cancel with nothing in flight) are harmless.
func fatalErrorCode(typ, code string) bool {
	switch code {
	case "session_expired", "invalid_api_key", "insufficient_quota":
		return true
	}
	return typ == "invalid_request_error" && code == "invalid_value"
}

func (a *Adapter) emit(ev provider.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}
