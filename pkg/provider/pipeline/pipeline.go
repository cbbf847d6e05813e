// Package pipeline is the composed STT -> LLM -> TTS provider. It has no
// streaming upstream session: caller audio accumulates until the bridge's
// local turn detector commits a turn, then one round trip through
// transcription, chat completion, and speech synthesis produces the reply.
// Latency is worse than the native realtime providers; it exists as the
// fallback of last resort and for tenants without realtime API access.
package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/provider"
)

const (
	// DefaultModel is the chat model when the tenant config names none.
	DefaultModel = "gpt-4o-mini"

	defaultVoice = "alloy"

	// minTurnBytes skips turns shorter than 100 ms; whisper rejects them
	// and they are noise anyway.
	minTurnBytes = 16000 / 10 * 2

	eventBuffer = 256
)

var (
	inFormat  = audio.Format{Encoding: audio.EncodingPCM16, SampleRateHz: 16000, Channels: 1}
	outFormat = audio.Format{Encoding: audio.EncodingPCM16, SampleRateHz: 24000, Channels: 1}
)

// Adapter buffers caller audio and replies one full turn at a time.
type Adapter struct {
	cfg    provider.Config
	client openai.Client
	events chan provider.Event
	done   chan struct{}

	mu        sync.Mutex
	closed    bool
	buf       []byte
	messages  []openai.ChatCompletionMessageParamUnion
	runCancel context.CancelFunc

	runs      sync.WaitGroup
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

func (a *Adapter) Type() provider.Type               { return provider.TypePipeline }
func (a *Adapter) Format() (in, out audio.Format)    { return inFormat, outFormat }
func (a *Adapter) MaxSessionDuration() time.Duration { return 0 }
func (a *Adapter) Events() <-chan provider.Event     { return a.events }

// Connect builds the API client and seeds chat history. There is no
// upstream connection to hold open.
func (a *Adapter) Connect(ctx context.Context) error {
	opts := []option.RequestOption{option.WithAPIKey(a.cfg.APIKey)}
	if a.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.cfg.BaseURL))
	}
	a.client = openai.NewClient(opts...)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.Instructions != "" {
		a.messages = append(a.messages, openai.SystemMessage(a.cfg.Instructions))
	}
	for _, entry := range a.cfg.History {
		if entry.Role == "agent" {
			a.messages = append(a.messages, openai.AssistantMessage(entry.Text))
		} else {
			a.messages = append(a.messages, openai.UserMessage(entry.Text))
		}
	}
	return nil
}

// SendAudio accumulates caller audio until the next commit.
func (a *Adapter) SendAudio(pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return provider.ErrClosed
	}
	a.buf = append(a.buf, pcm...)
	return nil
}

// SendControl drives the pipeline: commit runs one turn, cancel aborts the
// in-flight turn, speak synthesizes verbatim text.
func (a *Adapter) SendControl(ctl provider.Control) error {
	switch c := ctl.(type) {
	case provider.CommitControl:
		return a.commit()
	case provider.CancelControl:
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return provider.ErrClosed
		}
		if a.runCancel != nil {
			a.runCancel()
			a.runCancel = nil
		}
		return nil
	case provider.SpeakControl:
		ctx, err := a.startRun()
		if err != nil {
			return err
		}
		a.runs.Add(1)
		go func() {
			defer a.runs.Done()
			a.speak(ctx, c.Text)
		}()
		return nil
	default:
		return fmt.Errorf("pipeline: unsupported control %T", ctl)
	}
}

func (a *Adapter) commit() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return provider.ErrClosed
	}
	turn := a.buf
	a.buf = nil
	a.mu.Unlock()

	if len(turn) < minTurnBytes {
		return nil
	}
	ctx, err := a.startRun()
	if err != nil {
		return err
	}
	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		a.runTurn(ctx, turn)
	}()
	return nil
}

// startRun cancels any in-flight turn and opens a context for the next one.
func (a *Adapter) startRun() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, provider.ErrClosed
	}
	if a.runCancel != nil {
		a.runCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel
	go func() {
		select {
		case <-a.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, nil
}

// runTurn is one full STT -> LLM -> TTS round trip.
func (a *Adapter) runTurn(ctx context.Context, turn []byte) {
	text, err := a.transcribe(ctx, turn)
	if err != nil {
		a.fail("transcribe", err)
		return
	}
	if text == "" {
		return
	}
	a.emit(provider.TranscriptEvent{Role: "caller", Text: text, Final: true})

	a.mu.Lock()
	a.messages = append(a.messages, openai.UserMessage(text))
	messages := make([]openai.ChatCompletionMessageParamUnion, len(a.messages))
	copy(messages, a.messages)
	a.mu.Unlock()

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    a.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		a.fail("chat", err)
		return
	}
	if len(resp.Choices) == 0 {
		return
	}
	reply := resp.Choices[0].Message.Content

	a.mu.Lock()
	a.messages = append(a.messages, openai.AssistantMessage(reply))
	a.mu.Unlock()

	a.speak(ctx, reply)
}

// speak synthesizes text and emits it as one agent turn.
func (a *Adapter) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	resp, err := a.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoice(a.cfg.Voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		a.fail("speech", err)
		return
	}
	defer resp.Body.Close()
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		a.fail("speech read", err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	a.emit(provider.TurnStartedEvent{})
	a.emit(provider.TranscriptEvent{Role: "agent", Text: text, Final: true})
	a.emit(provider.AudioEvent{Data: pcm})
	a.emit(provider.TurnDoneEvent{})
}

func (a *Adapter) transcribe(ctx context.Context, turn []byte) (string, error) {
	wav := wavBytes(turn, inFormat.SampleRateHz)
	resp, err := a.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(bytes.NewReader(wav), "turn.wav", "audio/wav"),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// fail reports a turn failure. A canceled turn is barge-in, not an error;
// everything else is transient from the session's point of view because the
// next commit retries the whole pipeline.
func (a *Adapter) fail(stage string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	select {
	case <-a.done:
		return
	default:
	}
	a.emit(provider.ErrorEvent{Err: fmt.Errorf("pipeline %s: %w", stage, err)})
}

// Close aborts the in-flight turn and closes Events once all runs drain.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		if a.runCancel != nil {
			a.runCancel()
			a.runCancel = nil
		}
		a.mu.Unlock()
		close(a.done)
		go func() {
			a.runs.Wait()
			close(a.events)
		}()
	})
	return nil
}

func (a *Adapter) emit(ev provider.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// wavBytes wraps raw 16-bit mono PCM in a minimal RIFF header, which the
// transcription endpoint requires to infer the sample rate.
func wavBytes(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
