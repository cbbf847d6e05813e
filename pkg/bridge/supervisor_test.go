package bridge

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/handoff"
	"github.com/voxlane/voicebridge/pkg/provider"
	"github.com/voxlane/voicebridge/pkg/store"
)

type mapTenants map[string]store.TenantConfig

func (m mapTenants) Tenant(ctx context.Context, tenantID string) (store.TenantConfig, error) {
	cfg, ok := m[tenantID]
	if !ok {
		return store.TenantConfig{}, store.ErrTenantNotFound
	}
	return cfg, nil
}

func testTenants() mapTenants {
	return mapTenants{
		"acme": {
			TenantID: "acme",
			Name:     "Acme Support",
			Greeting: "Hello from Acme.",
			Providers: []provider.Config{{
				Type:           provider.TypeGeminiLive,
				APIKey:         "key",
				BargeInEnabled: true,
				TurnDetect:     provider.TurnDetection{Mode: provider.TurnDetectServer, Sensitivity: provider.SensitivityMedium},
			}},
			Handoff: handoff.DefaultConfig(),
			Audio: store.AudioPrefs{
				Encoding:     audio.EncodingPCM16,
				SampleRateHz: 8000,
				FrameMs:      20,
			},
		},
	}
}

func newTestSupervisor(t *testing.T, adapters ...*mockAdapter) (*Supervisor, *httptest.Server) {
	t.Helper()
	sup := NewSupervisor(SupervisorDeps{
		Tenants:   testTenants(),
		Factory:   queueFactory(adapters...),
		Escalator: &mockEscalator{outcome: handoff.Outcome{Result: handoff.ResultTicketCreated}},
		Sink:      &mockSink{},
	})
	srv := httptest.NewServer(http.HandlerFunc(sup.HandleMedia))
	t.Cleanup(srv.Close)
	return sup, srv
}

func dialMedia(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendStart(t *testing.T, conn *websocket.Conn, callID, tenantID string) {
	t.Helper()
	err := conn.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{
			"call_id":   callID,
			"tenant_id": tenantID,
			"caller":    "+15550123",
			"format":    map[string]any{"encoding": "pcm16", "sample_rate_hz": 8000, "channels": 1},
			"frame_ms":  20,
		},
	})
	if err != nil {
		t.Fatalf("start frame: %v", err)
	}
}

func TestSupervisorRunsCallLifecycle(t *testing.T) {
	a := newMockAdapter(provider.TypeGeminiLive)
	sup, srv := newTestSupervisor(t, a)

	conn := dialMedia(t, srv)
	sendStart(t, conn, "CA-100", "acme")

	waitFor(t, time.Second, "adapter connect", a.isConnected)
	waitFor(t, time.Second, "session registered", func() bool { return sup.Count() == 1 })

	sess, ok := sup.Session("CA-100")
	if !ok {
		t.Fatal("session not in table")
	}
	waitFor(t, time.Second, "active", func() bool { return sess.State() == StateActive })

	// Tenant greeting reaches the provider.
	waitFor(t, time.Second, "greeting", func() bool {
		return a.hasControl(func(c provider.Control) bool {
			sc, ok := c.(provider.SpeakControl)
			return ok && sc.Text == "Hello from Acme."
		})
	})

	// Media flows through to the adapter.
	payload := base64.StdEncoding.EncodeToString(pcm16Bytes(quietFrame(160)))
	_ = conn.WriteJSON(map[string]any{
		"event": "media",
		"media": map[string]any{"seq": 1, "payload": payload},
	})
	waitFor(t, time.Second, "frame delivered", func() bool { return a.frameCount() == 1 })

	_ = conn.WriteJSON(map[string]any{"event": "stop", "stop": map[string]any{"reason": "hangup"}})
	waitFor(t, time.Second, "session removed", func() bool { return sup.Count() == 0 })
}

func TestSupervisorUnknownTenantRejects(t *testing.T) {
	sup, srv := newTestSupervisor(t, newMockAdapter(provider.TypeGeminiLive))

	conn := dialMedia(t, srv)
	sendStart(t, conn, "CA-101", "ghost")

	// The handler closes the stream without ever registering a session.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if sup.Count() != 0 {
		t.Fatalf("Count = %d, want 0", sup.Count())
	}
}

func TestSupervisorDuplicateCallIDReplaces(t *testing.T) {
	a1 := newMockAdapter(provider.TypeGeminiLive)
	a2 := newMockAdapter(provider.TypeGeminiLive)
	sup, srv := newTestSupervisor(t, a1, a2)

	conn1 := dialMedia(t, srv)
	sendStart(t, conn1, "CA-102", "acme")
	waitFor(t, time.Second, "first session", a1.isConnected)
	first, _ := sup.Session("CA-102")

	conn2 := dialMedia(t, srv)
	sendStart(t, conn2, "CA-102", "acme")
	waitFor(t, time.Second, "second session", a2.isConnected)

	waitFor(t, time.Second, "old session stopped", func() bool {
		return first.State() == StateClosed
	})
	second, ok := sup.Session("CA-102")
	if !ok || second == first {
		t.Fatal("table still holds the replaced session")
	}
	if sup.Count() != 1 {
		t.Fatalf("Count = %d, want 1", sup.Count())
	}
}

func TestSupervisorShutdownDrains(t *testing.T) {
	a := newMockAdapter(provider.TypeGeminiLive)
	sup, srv := newTestSupervisor(t, a)

	conn := dialMedia(t, srv)
	sendStart(t, conn, "CA-103", "acme")
	waitFor(t, time.Second, "session up", func() bool { return sup.Count() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !sup.Shutdown(ctx) {
		t.Fatal("shutdown did not drain")
	}
	if sup.Count() != 0 {
		t.Fatalf("Count = %d after shutdown", sup.Count())
	}

	// New calls are refused while draining.
	conn2 := dialMedia(t, srv)
	sendStart(t, conn2, "CA-104", "acme")
	conn2.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn2.ReadMessage(); err != nil {
			break
		}
	}
	if sup.Count() != 0 {
		t.Fatalf("Count = %d, draining supervisor accepted a call", sup.Count())
	}
}
