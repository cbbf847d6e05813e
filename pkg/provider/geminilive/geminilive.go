// Package geminilive adapts the Gemini Live API to the provider session
// protocol. Audio goes up as 16 kHz PCM and comes back at 24 kHz; the API
// announces impending termination with a GoAway message, which is surfaced
// as an expiry warning so the session can reconnect without losing audio.
package geminilive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/provider"
)

const (
	// DefaultModel is used when the tenant config names none.
	DefaultModel = "gemini-2.0-flash-live-001"

	defaultVoice = "Puck"

	// Live API sessions are bounded upstream; schedule reconnects inside
	// that window even when no GoAway arrives.
	maxSessionDuration = 10 * time.Minute

	inputMIME   = "audio/pcm;rate=16000"
	eventBuffer = 256
)

var (
	inFormat  = audio.Format{Encoding: audio.EncodingPCM16, SampleRateHz: 16000, Channels: 1}
	outFormat = audio.Format{Encoding: audio.EncodingPCM16, SampleRateHz: 24000, Channels: 1}
)

// Adapter is one Live API session.
type Adapter struct {
	cfg    provider.Config
	events chan provider.Event
	done   chan struct{}

	mu      sync.Mutex
	session *genai.Session
	closed  bool

	closeOnce sync.Once
}

// New builds an unconnected adapter for cfg.
func New(cfg provider.Config) *Adapter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
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

func (a *Adapter) Type() provider.Type               { return provider.TypeGeminiLive }
func (a *Adapter) Format() (in, out audio.Format)    { return inFormat, outFormat }
func (a *Adapter) MaxSessionDuration() time.Duration { return maxSessionDuration }
func (a *Adapter) Events() <-chan provider.Event     { return a.events }

// Connect opens the Live session and replays prior context.
func (a *Adapter) Connect(ctx context.Context) error {
	timeout := a.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = provider.DefaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientCfg := &genai.ClientConfig{
		APIKey:  a.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if a.cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = a.cfg.BaseURL
	}
	client, err := genai.NewClient(connectCtx, clientCfg)
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	session, err := client.Live.Connect(connectCtx, a.cfg.Model, a.connectConfig())
	if err != nil {
		return fmt.Errorf("gemini live connect: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	if err := a.seedHistory(); err != nil {
		_ = session.Close()
		return fmt.Errorf("gemini history: %w", err)
	}

	go a.receiveLoop(session)
	return nil
}

func (a *Adapter) connectConfig() *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: a.cfg.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if a.cfg.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: a.cfg.Instructions}},
		}
	}
	if a.cfg.TurnDetect.Mode == provider.TurnDetectLocal {
		cfg.RealtimeInputConfig = &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{Disabled: true},
		}
	}
	return cfg
}

// seedHistory replays prior turns as client content so context survives
// reconnects and fallbacks.
func (a *Adapter) seedHistory() error {
	if len(a.cfg.History) == 0 {
		return nil
	}
	turns := make([]*genai.Content, 0, len(a.cfg.History))
	for _, entry := range a.cfg.History {
		role := genai.RoleUser
		if entry.Role == "agent" {
			role = genai.RoleModel
		}
		turns = append(turns, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: entry.Text}},
		})
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.session == nil {
		return provider.ErrClosed
	}
	return a.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        turns,
		TurnComplete: genai.Ptr(false),
	})
}

// SendAudio streams one caller frame into the session.
func (a *Adapter) SendAudio(pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.session == nil {
		return provider.ErrClosed
	}
	err := a.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: inputMIME},
	})
	if err != nil {
		return fmt.Errorf("gemini send audio: %w", err)
	}
	return nil
}

// SendControl translates generic controls into Live API inputs.
func (a *Adapter) SendControl(ctl provider.Control) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.session == nil {
		return provider.ErrClosed
	}
	switch c := ctl.(type) {
	case provider.CancelControl:
		// With automatic VAD the server interrupts on incoming speech; in
		// manual mode an activity start forces the same truncation.
		if a.cfg.TurnDetect.Mode != provider.TurnDetectLocal {
			return nil
		}
		return a.session.SendRealtimeInput(genai.LiveRealtimeInput{
			ActivityStart: &genai.ActivityStart{},
		})
	case provider.CommitControl:
		if a.cfg.TurnDetect.Mode != provider.TurnDetectLocal {
			return nil
		}
		return a.session.SendRealtimeInput(genai.LiveRealtimeInput{
			ActivityEnd: &genai.ActivityEnd{},
		})
	case provider.SpeakControl:
		return a.session.SendClientContent(genai.LiveClientContentInput{
			Turns: []*genai.Content{{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					Text: "Say exactly the following, with nothing added: " + c.Text,
				}},
			}},
			TurnComplete: genai.Ptr(true),
		})
	default:
		return fmt.Errorf("geminilive: unsupported control %T", ctl)
	}
}

// Close tears down the session. The receive loop notices and closes Events.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.mu.Lock()
		a.closed = true
		session := a.session
		a.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
	})
	return nil
}

func (a *Adapter) receiveLoop(session *genai.Session) {
	defer close(a.events)
	for {
		msg, err := session.Receive()
		if err != nil {
			select {
			case <-a.done:
			default:
				a.emit(provider.ErrorEvent{
					Err:   fmt.Errorf("gemini receive: %w: %w", err, provider.ErrFatal),
					Fatal: true,
				})
			}
			return
		}
		a.dispatch(msg)
	}
}

func (a *Adapter) dispatch(msg *genai.LiveServerMessage) {
	if msg == nil {
		return
	}
	if msg.GoAway != nil {
		a.emit(provider.ExpiryWarningEvent{Deadline: time.Now().Add(msg.GoAway.TimeLeft)})
	}
	if msg.ToolCall != nil {
		for _, call := range msg.ToolCall.FunctionCalls {
			args, _ := json.Marshal(call.Args)
			a.emit(provider.ToolCallEvent{ID: call.ID, Name: call.Name, Args: args})
		}
	}
	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.Interrupted {
		a.emit(provider.SpeechStartedEvent{})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		a.emit(provider.TranscriptEvent{
			Role:  "caller",
			Text:  sc.InputTranscription.Text,
			Final: sc.InputTranscription.Finished,
		})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		a.emit(provider.TranscriptEvent{
			Role:  "agent",
			Text:  sc.OutputTranscription.Text,
			Final: sc.OutputTranscription.Finished,
		})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				a.emit(provider.AudioEvent{Data: part.InlineData.Data})
			}
		}
	}
	if sc.TurnComplete {
		a.emit(provider.TurnDoneEvent{Interrupted: sc.Interrupted})
	}
}

func (a *Adapter) emit(ev provider.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}
