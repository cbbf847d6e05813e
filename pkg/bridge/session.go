package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/handoff"
	"github.com/voxlane/voicebridge/pkg/metrics"
	"github.com/voxlane/voicebridge/pkg/provider"
	"github.com/voxlane/voicebridge/pkg/records"
	"github.com/voxlane/voicebridge/pkg/telephony"
)

// State is the call session lifecycle state.
type State int32

const (
	// StateConnecting is the initial state while the primary provider connects.
	StateConnecting State = iota
	// StateActive is normal bidirectional conversation.
	StateActive
	// StateReconnecting is a sub-state of Active entered ahead of provider
	// expiry or during fallback. Telephony audio keeps flowing.
	StateReconnecting
	// StateEscalating means a handoff trigger fired and is being resolved.
	StateEscalating
	// StateTransferring means a live transfer to a human is in progress.
	StateTransferring
	// StateEnding is teardown: closing message, buffer drain, record flush.
	StateEnding
	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateReconnecting:
		return "RECONNECTING"
	case StateEscalating:
		return "ESCALATING"
	case StateTransferring:
		return "TRANSFERRING"
	case StateEnding:
		return "ENDING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrSessionClosed is returned when operating on a finished session.
var ErrSessionClosed = errors.New("session closed")

// Escalator resolves handoff triggers. *handoff.Orchestrator satisfies it.
type Escalator interface {
	Evaluate(t handoff.Trigger, cfg handoff.Config) handoff.Request
	Resolve(ctx context.Context, req handoff.Request, cfg handoff.Config) handoff.Outcome
}

// RecordSink receives the conversation record at session end.
type RecordSink interface {
	Publish(ctx context.Context, rec records.Conversation) error
}

// Dependencies are the collaborators a session is wired with.
type Dependencies struct {
	Stream    *telephony.Stream
	Chain     *provider.Chain
	Escalator Escalator
	Sink      RecordSink
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// OnTurnEvent observes turn transitions. Optional.
	OnTurnEvent func(TurnEvent)
}

// CallSession owns one telephony connection and one active provider
// adapter, and wires audio between them through the codec, echo canceller,
// and turn detector. All mutable state is confined to the session's own
// event loop; the only cross-goroutine surfaces are the frame queues, the
// state atomic, and Stop.
type CallSession struct {
	cfg        SessionConfig
	handoffCfg handoff.Config
	deps       Dependencies
	log        *slog.Logger

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	// telephony side
	inQ      *FrameQueue
	outQ     *FrameQueue
	hangup   chan struct{}
	hangOnce sync.Once

	// provider side, owned by the loop
	adapter  provider.Adapter
	pcfg     provider.Config
	upRes    *audio.Resampler
	downRes  *audio.Resampler
	aec      *audio.EchoCanceller
	detector *TurnDetector
	warmup   *WarmupBuffer

	// far-end reference at wire rate, consumed one near frame at a time
	farRef  []int16
	outPend []int16
	outSeq  int64

	expiry *time.Timer

	startedAt     time.Time
	turns         int
	transcript    []provider.TranscriptEntry
	agentSpeaking bool
	escalated     bool
	closing       bool
	closingAt     time.Time
	reconnects    int
	fallbacks     int

	outcome  string
	ticketID string

	finishOnce sync.Once
}

// NewCallSession builds a session. Run starts it.
func NewCallSession(cfg SessionConfig, handoffCfg handoff.Config, deps Dependencies) *CallSession {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default
	}
	s := &CallSession{
		cfg:        cfg,
		handoffCfg: handoffCfg,
		deps:       deps,
		log:        logger.With("call_id", cfg.CallID, "tenant_id", cfg.TenantID),
		inQ:        NewFrameQueue(cfg.QueueDepth),
		outQ:       NewFrameQueue(cfg.QueueDepth),
		hangup:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the current lifecycle state.
func (s *CallSession) State() State {
	return State(s.state.Load())
}

func (s *CallSession) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("state transition", "from", prev.String(), "to", st.String())
	}
}

// Stop cancels the session from outside its loop. Used on supervisor drain.
func (s *CallSession) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Run drives the session until the call ends. It blocks; the supervisor
// calls it from the connection handler goroutine.
func (s *CallSession) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	s.startedAt = time.Now()
	s.expiry = time.NewTimer(time.Hour)
	s.expiry.Stop()
	defer s.expiry.Stop()

	s.deps.Metrics.SessionsTotal.WithLabelValues(s.cfg.TenantID).Inc()
	s.deps.Metrics.SessionsActive.Inc()
	defer s.deps.Metrics.SessionsActive.Dec()

	if err := s.connectNext(); err != nil {
		s.log.Error("no provider available", "error", err)
		s.escalate(handoff.ReasonProviderExhausted)
		s.finish(records.OutcomeError)
		return err
	}
	s.setState(StateActive)
	s.log.Info("session active", "provider", s.adapter.Type())

	if s.cfg.Greeting != "" {
		if err := s.adapter.SendControl(provider.SpeakControl{Text: s.cfg.Greeting}); err != nil {
			s.log.Warn("greeting failed", "error", err)
		}
	}

	go s.readPump()
	go s.writePump()

	err := s.loop()
	s.finish(s.outcomeOrDefault())
	return err
}

// loop is the session's single event loop. Everything that mutates session
// state happens here.
func (s *CallSession) loop() error {
	closingTick := time.NewTicker(time.Second)
	defer closingTick.Stop()

	for {
		if s.State() == StateClosed || s.State() == StateTransferring {
			return nil
		}
		select {
		case <-s.ctx.Done():
			s.noteOutcome(records.OutcomeHangup)
			return nil

		case <-s.hangup:
			s.log.Info("telephony hangup")
			s.noteOutcome(records.OutcomeHangup)
			return nil

		case f := <-s.inQ.C():
			if err := s.handleInbound(f); err != nil {
				return err
			}

		case ev, ok := <-s.adapter.Events():
			if !ok {
				if err := s.fallback(fmt.Errorf("%w: event stream closed", provider.ErrFatal)); err != nil {
					return err
				}
				continue
			}
			if err := s.handleProviderEvent(ev); err != nil {
				return err
			}

		case <-s.expiry.C:
			if err := s.reconnect(); err != nil {
				return err
			}

		case <-closingTick.C:
			// The closing message gets a bounded window, then the call ends
			// even if the provider never signals turn completion.
			if s.closing && time.Now().After(s.closingAt) {
				s.log.Info("closing window elapsed")
				return nil
			}
			if err := s.checkDurationLimit(); err != nil {
				return err
			}
		}
	}
}

// connectNext activates the next provider in the fallback chain, trying
// each in order until one connects or the chain is exhausted.
func (s *CallSession) connectNext() error {
	for {
		adapter, pcfg, err := s.deps.Chain.Next(s.transcript)
		if err != nil {
			return err
		}

		timeout := pcfg.ConnectTimeout
		if timeout <= 0 {
			timeout = provider.DefaultConnectTimeout
		}
		cctx, cancel := context.WithTimeout(s.ctx, timeout)
		err = adapter.Connect(cctx)
		cancel()
		if err != nil {
			s.deps.Metrics.ProviderConnects.WithLabelValues(string(pcfg.Type), "error").Inc()
			s.log.Warn("provider connect failed", "provider", pcfg.Type, "error", err)
			_ = adapter.Close()
			continue
		}

		if err := s.bindAdapter(adapter, pcfg); err != nil {
			s.log.Warn("provider format rejected", "provider", pcfg.Type, "error", err)
			_ = adapter.Close()
			continue
		}
		s.deps.Metrics.ProviderConnects.WithLabelValues(string(pcfg.Type), "ok").Inc()
		return nil
	}
}

// bindAdapter negotiates the audio path for a freshly connected adapter and
// swaps it in. Fails fast on an unsupported format combination.
func (s *CallSession) bindAdapter(adapter provider.Adapter, pcfg provider.Config) error {
	in, out := adapter.Format()
	if _, err := audio.NegotiatePath(s.cfg.WireFormat, in); err != nil {
		return err
	}
	if _, err := audio.NegotiatePath(s.cfg.WireFormat, out); err != nil {
		return err
	}

	var err error
	var upRes, downRes *audio.Resampler
	if in.SampleRateHz != s.cfg.WireFormat.SampleRateHz {
		upRes, err = audio.NewResampler(s.cfg.WireFormat.SampleRateHz, in.SampleRateHz)
		if err != nil {
			return err
		}
	}
	if out.SampleRateHz != s.cfg.WireFormat.SampleRateHz {
		downRes, err = audio.NewResampler(out.SampleRateHz, s.cfg.WireFormat.SampleRateHz)
		if err != nil {
			return err
		}
	}

	if s.aec == nil && s.cfg.EchoCancel {
		s.aec, err = audio.NewEchoCanceller(s.cfg.WireFormat.SampleRateHz)
		if err != nil {
			return err
		}
	}

	s.adapter = adapter
	s.pcfg = pcfg
	s.upRes = upRes
	s.downRes = downRes
	s.detector = NewTurnDetector(DetectorConfigFor(pcfg.TurnDetect, s.cfg.FrameMs))
	if s.warmup == nil {
		s.warmup = NewWarmupBuffer(s.cfg.WarmupMs, s.cfg.FrameMs, pcfg.AdaptiveWarmup)
	} else {
		s.warmup.Reset()
	}
	s.outPend = nil

	s.expiry.Stop()
	if limit := adapter.MaxSessionDuration(); limit > 0 {
		lead := s.cfg.ExpiryLead
		if lead >= limit {
			lead = limit / 2
		}
		s.expiry.Reset(limit - lead)
	}
	return nil
}

// handleInbound drives one telephony frame through codec, echo canceller,
// detector, and on to the adapter.
func (s *CallSession) handleInbound(f AudioFrame) error {
	s.deps.Metrics.FramesInbound.Inc()

	pcm, err := audio.ToLinear(f.Data, s.cfg.WireFormat)
	if err != nil {
		s.log.Warn("undecodable inbound frame", "seq", f.Seq, "error", err)
		s.deps.Metrics.FramesDropped.WithLabelValues("decode").Inc()
		return nil
	}

	if s.aec != nil {
		pcm = s.aec.Process(pcm, s.takeFarRef(len(pcm)))
	}

	now := time.Now()
	for _, ev := range s.detector.ProcessFrame(pcm, now) {
		s.emitTurnEvent(ev)
		switch ev.Kind {
		case KindSpeechStarted:
			if s.agentSpeaking && s.pcfg.BargeInEnabled {
				s.bargeIn()
			}
		case KindSpeechStopped:
			if s.pcfg.TurnDetect.Mode == provider.TurnDetectLocal {
				if err := s.adapter.SendControl(provider.CommitControl{}); err != nil {
					s.log.Warn("turn commit failed", "error", err)
				}
			}
		}
	}

	up := pcm
	if s.upRes != nil {
		up = s.upRes.Process(pcm)
	}
	in, _ := s.adapter.Format()
	data, err := audio.FromLinear(up, in)
	if err != nil {
		return err
	}
	if err := s.adapter.SendAudio(data); err != nil {
		if errors.Is(err, provider.ErrClosed) || errors.Is(err, provider.ErrFatal) {
			return s.fallback(err)
		}
		s.log.Warn("send audio failed", "error", err)
	}
	return s.checkDurationLimit()
}

// handleProviderEvent applies one provider-agnostic event to the session.
func (s *CallSession) handleProviderEvent(ev provider.Event) error {
	switch e := ev.(type) {
	case provider.AudioEvent:
		return s.handleAgentAudio(e.Data)

	case provider.TranscriptEvent:
		if !e.Final {
			return nil
		}
		s.transcript = append(s.transcript, provider.TranscriptEntry{Role: e.Role, Text: e.Text, At: time.Now()})
		if e.Role == "caller" {
			s.turns++
			if s.matchKeyword(e.Text) {
				s.escalate(handoff.ReasonKeyword)
				return nil
			}
			if s.cfg.MaxTurns > 0 && s.turns >= s.cfg.MaxTurns {
				s.escalate(handoff.ReasonTurnLimit)
			}
		}

	case provider.TurnStartedEvent:
		if !s.agentSpeaking {
			s.agentSpeaking = true
			s.emitTurnEvent(TurnEvent{Kind: KindAgentSpeaking, At: time.Now()})
		}

	case provider.TurnDoneEvent:
		s.flushWarmup()
		if s.agentSpeaking {
			s.agentSpeaking = false
			s.emitTurnEvent(TurnEvent{Kind: KindAgentDone, At: time.Now()})
		}
		if s.closing {
			s.log.Info("closing message delivered")
			s.setState(StateClosed)
		}

	case provider.SpeechStartedEvent:
		// Provider-side VAD heard the caller. In server mode the provider
		// cancels its own generation; we still have to cut local playback.
		if s.agentSpeaking && s.pcfg.BargeInEnabled {
			s.cutPlayback()
			s.agentSpeaking = false
			s.emitTurnEvent(TurnEvent{Kind: KindAgentDone, At: time.Now()})
		}

	case provider.SpeechStoppedEvent:
		// Informational; server-side turn detection drives its own commits.

	case provider.ToolCallEvent:
		if e.Name == "transfer_to_human" {
			s.escalate(handoff.ReasonExplicit)
			return nil
		}
		s.log.Warn("unhandled tool call", "tool", e.Name)

	case provider.ExpiryWarningEvent:
		return s.reconnect()

	case provider.ErrorEvent:
		if e.Fatal {
			return s.fallback(e.Err)
		}
		s.log.Warn("provider error", "error", e.Err)
	}
	return nil
}

// handleAgentAudio converts provider audio to the wire format, slices it
// into frames, and queues it through the warm-up buffer. The same samples
// feed the echo canceller's far-end reference.
func (s *CallSession) handleAgentAudio(data []byte) error {
	if !s.agentSpeaking {
		s.agentSpeaking = true
		s.emitTurnEvent(TurnEvent{Kind: KindAgentSpeaking, At: time.Now()})
	}

	_, out := s.adapter.Format()
	pcm, err := audio.ToLinear(data, out)
	if err != nil {
		s.log.Warn("undecodable provider audio", "error", err)
		return nil
	}
	if s.downRes != nil {
		pcm = s.downRes.Process(pcm)
	}

	s.outPend = append(s.outPend, pcm...)
	samplesPerFrame := s.cfg.WireFormat.SampleRateHz * s.cfg.FrameMs / 1000
	for len(s.outPend) >= samplesPerFrame {
		frame := s.outPend[:samplesPerFrame]
		s.outPend = s.outPend[samplesPerFrame:]
		if err := s.queueOutbound(frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *CallSession) queueOutbound(pcm []int16) error {
	data, err := audio.FromLinear(pcm, s.cfg.WireFormat)
	if err != nil {
		return err
	}
	s.pushFarRef(pcm)

	s.outSeq++
	f := AudioFrame{
		Seq:      s.outSeq,
		Format:   s.cfg.WireFormat,
		Data:     data,
		Duration: time.Duration(s.cfg.FrameMs) * time.Millisecond,
	}
	for _, rel := range s.warmup.Add(f) {
		if err := s.outQ.Push(s.ctx, rel); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
	}
	return nil
}

// flushWarmup releases frames still held when a response ends before the
// warm-up target is reached.
func (s *CallSession) flushWarmup() {
	for _, rel := range s.warmup.Flush() {
		if err := s.outQ.Push(s.ctx, rel); err != nil {
			return
		}
	}
}

// bargeIn cuts agent playback end to end: queued frames, PBX buffer, and
// provider generation. Runs in the inbound path so the cancel lands within
// one frame of the speech onset.
func (s *CallSession) bargeIn() {
	s.cutPlayback()
	if err := s.adapter.SendControl(provider.CancelControl{}); err != nil {
		s.log.Warn("cancel failed", "error", err)
	}
	s.agentSpeaking = false
	s.deps.Metrics.BargeIns.Inc()
	s.emitTurnEvent(TurnEvent{Kind: KindAgentDone, At: time.Now()})
	s.log.Debug("barge-in")
}

// cutPlayback drops local queued agent audio and clears the PBX side.
func (s *CallSession) cutPlayback() {
	dropped := s.outQ.Flush() + s.warmup.Drop()
	s.outPend = nil
	if dropped > 0 {
		s.deps.Metrics.FramesDropped.WithLabelValues("barge_in").Add(float64(dropped))
	}
	if err := s.deps.Stream.SendClear(); err != nil && !errors.Is(err, telephony.ErrStreamClosed) {
		s.log.Warn("playback clear failed", "error", err)
	}
}

// reconnect replaces the adapter ahead of the provider's session deadline.
// The old connection keeps serving until the new one is bound, so no frames
// are lost beyond the swap itself.
func (s *CallSession) reconnect() error {
	s.setState(StateReconnecting)
	s.log.Info("proactive reconnect", "provider", s.pcfg.Type)

	old := s.adapter
	s.deps.Chain.Rewind()
	if err := s.connectNext(); err != nil {
		return s.exhausted(err)
	}
	_ = old.Close()
	s.reconnects++
	s.deps.Metrics.ProviderReconnects.Inc()
	s.setState(StateActive)
	return nil
}

// fallback replaces a failed adapter with the next configured provider.
// The session stays Active from telephony's point of view.
func (s *CallSession) fallback(cause error) error {
	s.setState(StateReconnecting)
	s.log.Warn("provider failed, falling back", "provider", s.pcfg.Type, "error", cause)

	old := s.adapter
	from := string(s.pcfg.Type)
	if err := s.connectNext(); err != nil {
		_ = old.Close()
		return s.exhausted(err)
	}
	_ = old.Close()
	s.fallbacks++
	s.deps.Metrics.ProviderFallbacks.WithLabelValues(from, string(s.pcfg.Type)).Inc()
	s.setState(StateActive)
	return nil
}

// exhausted handles the end of the fallback chain: hand off to a human.
func (s *CallSession) exhausted(err error) error {
	s.log.Error("provider chain exhausted", "error", err)
	s.escalate(handoff.ReasonProviderExhausted)
	if s.State() != StateClosed && s.State() != StateTransferring {
		s.setState(StateClosed)
	}
	return fmt.Errorf("%w: %v", provider.ErrExhausted, err)
}

// escalate resolves a handoff trigger to a terminal outcome and steers the
// session accordingly.
func (s *CallSession) escalate(reason handoff.Reason) {
	if s.escalated {
		return
	}
	s.escalated = true
	s.setState(StateEscalating)
	start := time.Now()

	trigger := handoff.Trigger{
		Reason:       reason,
		CallID:       s.cfg.CallID,
		TenantID:     s.cfg.TenantID,
		Caller:       s.cfg.Caller,
		Transcript:   s.transcript,
		RecordingURL: s.cfg.RecordingURL,
	}
	req := s.deps.Escalator.Evaluate(trigger, s.handoffCfg)
	out := s.deps.Escalator.Resolve(s.ctx, req, s.handoffCfg)

	s.deps.Metrics.Handoffs.WithLabelValues(string(reason), string(out.Result)).Inc()
	s.deps.Metrics.TransferLatency.Observe(time.Since(start).Seconds())

	switch out.Result {
	case handoff.ResultTransferred:
		s.setState(StateTransferring)
		s.noteOutcome(records.OutcomeTransferred)

	default:
		s.ticketID = out.TicketID
		s.noteOutcome(records.OutcomeTicketCreated)
		if out.Result == handoff.ResultFailed {
			s.noteOutcomeForce(records.OutcomeError)
		}
		s.sayGoodbye()
	}
}

// sayGoodbye plays the closing message before the call ends. Without a
// live adapter the call just ends.
func (s *CallSession) sayGoodbye() {
	msg := s.handoffCfg.ClosingMessage
	if msg == "" || s.adapter == nil {
		s.setState(StateClosed)
		return
	}
	s.setState(StateEnding)
	s.closing = true
	s.closingAt = time.Now().Add(10 * time.Second)
	if err := s.adapter.SendControl(provider.SpeakControl{Text: msg}); err != nil {
		s.log.Warn("closing message failed", "error", err)
		s.setState(StateClosed)
	}
}

func (s *CallSession) checkDurationLimit() error {
	if s.escalated || s.cfg.MaxDuration <= 0 {
		return nil
	}
	if time.Since(s.startedAt) >= s.cfg.MaxDuration {
		s.escalate(handoff.ReasonDurationLimit)
	}
	return nil
}

func (s *CallSession) matchKeyword(text string) bool {
	if len(s.cfg.Keywords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range s.cfg.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// readPump moves telephony frames onto the inbound queue. Single reader.
func (s *CallSession) readPump() {
	defer s.hangOnce.Do(func() { close(s.hangup) })
	for {
		msg, err := s.deps.Stream.Read()
		if err != nil {
			var decodeErr *telephony.DecodeError
			if errors.As(err, &decodeErr) {
				s.log.Warn("bad telephony frame", "code", decodeErr.Code, "error", err)
				s.deps.Metrics.FramesDropped.WithLabelValues("protocol").Inc()
				continue
			}
			return
		}
		switch msg.Event {
		case "media":
			data, err := msg.Media.Decoded()
			if err != nil {
				s.deps.Metrics.FramesDropped.WithLabelValues("payload").Inc()
				continue
			}
			f := AudioFrame{
				Seq:      msg.Media.Seq,
				Format:   s.cfg.WireFormat,
				Data:     data,
				Duration: time.Duration(s.cfg.FrameMs) * time.Millisecond,
			}
			if err := s.inQ.Push(s.ctx, f); err != nil {
				return
			}
		case "mark":
			s.log.Debug("playback mark", "name", msg.Mark.Name)
		case "stop":
			s.log.Info("stream stop", "reason", msg.Stop.Reason)
			return
		}
	}
}

// writePump drains the outbound queue to the telephony stream.
func (s *CallSession) writePump() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.outQ.Done():
			return
		case f := <-s.outQ.C():
			if err := s.deps.Stream.SendMedia(f.Seq, f.Data); err != nil {
				if !errors.Is(err, telephony.ErrStreamClosed) {
					s.log.Warn("outbound write failed", "error", err)
				}
				return
			}
			s.deps.Metrics.FramesOutbound.Inc()
		}
	}
}

func (s *CallSession) emitTurnEvent(ev TurnEvent) {
	if s.deps.OnTurnEvent != nil {
		s.deps.OnTurnEvent(ev)
	}
}

// noteOutcome records the first outcome only; the first cause wins.
func (s *CallSession) noteOutcome(outcome string) {
	if s.outcome == "" {
		s.outcome = outcome
	}
}

func (s *CallSession) noteOutcomeForce(outcome string) {
	s.outcome = outcome
}

func (s *CallSession) outcomeOrDefault() string {
	if s.outcome == "" {
		return records.OutcomeCompleted
	}
	return s.outcome
}

// finish tears the session down exactly once: adapter first, then queues,
// then the conversation record, then the transport.
func (s *CallSession) finish(outcome string) {
	s.finishOnce.Do(func() {
		s.setState(StateEnding)
		s.cancel()

		if s.adapter != nil {
			_ = s.adapter.Close()
		}
		s.inQ.Close()
		s.outQ.Close()
		if s.aec != nil {
			s.aec.Reset()
			s.aec = nil
		}

		endedAt := time.Now()
		s.deps.Metrics.SessionDuration.Observe(endedAt.Sub(s.startedAt).Seconds())
		s.deps.Metrics.SessionOutcomes.WithLabelValues(outcome).Inc()

		rec := records.Conversation{
			CallID:       s.cfg.CallID,
			TenantID:     s.cfg.TenantID,
			Caller:       s.cfg.Caller,
			Provider:     s.pcfg.Type,
			StartedAt:    s.startedAt,
			EndedAt:      endedAt,
			Turns:        s.turns,
			Transcript:   s.transcript,
			Outcome:      outcome,
			TicketID:     s.ticketID,
			RecordingURL: s.cfg.RecordingURL,
			Fallbacks:    s.fallbacks,
			Reconnects:   s.reconnects,
		}
		if s.deps.Sink != nil {
			// Best effort: the call is over either way.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.deps.Sink.Publish(flushCtx, rec); err != nil {
				s.log.Error("conversation record flush failed", "error", err)
			}
			cancel()
		}

		_ = s.deps.Stream.Close()
		s.setState(StateClosed)
		s.log.Info("session closed",
			"outcome", outcome,
			"turns", s.turns,
			"duration", endedAt.Sub(s.startedAt),
			"fallbacks", s.fallbacks,
			"reconnects", s.reconnects)
	})
}

// Far-end reference bookkeeping for the echo canceller. Outbound samples at
// wire rate are queued here and consumed in lockstep with inbound frames.
func (s *CallSession) pushFarRef(pcm []int16) {
	if s.aec == nil {
		return
	}
	// Bound the reference lag to one second to survive pacing mismatches.
	limit := s.cfg.WireFormat.SampleRateHz
	s.farRef = append(s.farRef, pcm...)
	if len(s.farRef) > limit {
		s.farRef = s.farRef[len(s.farRef)-limit:]
	}
}

func (s *CallSession) takeFarRef(n int) []int16 {
	out := make([]int16, n)
	take := n
	if take > len(s.farRef) {
		take = len(s.farRef)
	}
	copy(out, s.farRef[:take])
	s.farRef = s.farRef[take:]
	return out
}
