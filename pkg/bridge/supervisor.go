package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/metrics"
	"github.com/voxlane/voicebridge/pkg/provider"
	"github.com/voxlane/voicebridge/pkg/store"
	"github.com/voxlane/voicebridge/pkg/telephony"
)

// ErrDraining is returned to new calls while the supervisor shuts down.
var ErrDraining = errors.New("supervisor draining")

// SupervisorDeps are the supervisor's injected collaborators.
type SupervisorDeps struct {
	Tenants   store.TenantSource
	Factory   provider.Factory
	Escalator Escalator
	Sink      RecordSink
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// WriteTimeout bounds telephony websocket writes.
	WriteTimeout time.Duration
}

// Supervisor accepts inbound telephony streams, resolves tenant
// configuration, and owns the authoritative session table. It creates and
// destroys sessions; it never touches a live session's audio state.
type Supervisor struct {
	deps SupervisorDeps
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*CallSession
	wg       sync.WaitGroup
	draining bool
}

// NewSupervisor builds a supervisor ready to accept calls.
func NewSupervisor(deps SupervisorDeps) *Supervisor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		deps:     deps,
		log:      deps.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*CallSession),
	}
}

// HandleMedia is the websocket endpoint the telephony platform streams
// call audio to. The handler goroutine runs the session for the lifetime
// of the call.
func (s *Supervisor) HandleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := telephony.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("media upgrade failed", "error", err)
		return
	}
	stream := telephony.NewStream(conn, s.deps.WriteTimeout)

	msg, err := stream.Read()
	if err != nil || msg.Event != "start" {
		s.log.Warn("expected start frame", "error", err)
		_ = stream.Close()
		return
	}
	start := msg.Start

	log := s.log.With("call_id", start.CallID, "tenant_id", start.TenantID)

	sess, err := s.newSession(r.Context(), stream, *start, log)
	if err != nil {
		log.Error("session setup failed", "error", err)
		_ = stream.Close()
		return
	}

	unregister, err := s.register(start.CallID, sess)
	if err != nil {
		log.Warn("session rejected", "error", err)
		_ = stream.Close()
		return
	}
	defer unregister()

	if err := sess.Run(s.ctx); err != nil {
		log.Warn("session ended with error", "error", err)
	}
}

// newSession resolves tenant configuration and assembles one CallSession.
func (s *Supervisor) newSession(ctx context.Context, stream *telephony.Stream, start telephony.Start, log *slog.Logger) (*CallSession, error) {
	tenant, err := s.deps.Tenants.Tenant(ctx, start.TenantID)
	if err != nil {
		return nil, err
	}

	wire := start.Format
	if wire.SampleRateHz == 0 && tenant.Audio.SampleRateHz != 0 {
		wire = audio.Format{
			Encoding:     tenant.Audio.Encoding,
			SampleRateHz: tenant.Audio.SampleRateHz,
			Channels:     1,
		}
	}
	if err := audio.Validate(wire); err != nil {
		return nil, err
	}

	chain, err := provider.NewChain(s.deps.Factory, tenant.Providers)
	if err != nil {
		return nil, err
	}

	frameMs := start.FrameMs
	if frameMs <= 0 {
		frameMs = tenant.Audio.FrameMs
	}

	cfg := SessionConfig{
		CallID:       start.CallID,
		TenantID:     start.TenantID,
		Caller:       start.Caller,
		WireFormat:   wire,
		FrameMs:      frameMs,
		Greeting:     tenant.Greeting,
		EchoCancel:   tenant.Audio.EchoCancel,
		Keywords:     tenant.Handoff.Keywords,
		MaxTurns:     tenant.Limits.MaxTurns,
		MaxDuration:  tenant.Limits.MaxDuration,
		RecordingURL: start.RecordingURL,
	}

	return NewCallSession(cfg, tenant.Handoff, Dependencies{
		Stream:    stream,
		Chain:     chain,
		Escalator: s.deps.Escalator,
		Sink:      s.deps.Sink,
		Metrics:   s.deps.Metrics,
		Logger:    log,
	}), nil
}

// register adds a session to the table. A duplicate call id replaces the
// old session, which is stopped; duplicates mean the PBX re-sent the
// stream.
func (s *Supervisor) register(callID string, sess *CallSession) (unregister func(), err error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return nil, ErrDraining
	}
	old := s.sessions[callID]
	s.sessions[callID] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.sessions[callID] == sess {
				delete(s.sessions, callID)
			}
			s.mu.Unlock()
			s.wg.Done()
		})
	}, nil
}

// Count returns the number of live sessions.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Session looks up a live session by call id.
func (s *Supervisor) Session(callID string) (*CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	return sess, ok
}

// Shutdown stops accepting calls, cancels live sessions, and waits for
// them to drain or the context to expire.
func (s *Supervisor) Shutdown(ctx context.Context) bool {
	s.mu.Lock()
	s.draining = true
	stops := make([]*CallSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		stops = append(stops, sess)
	}
	s.mu.Unlock()

	for _, sess := range stops {
		sess.Stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
