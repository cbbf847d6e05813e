package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlane/voicebridge/pkg/provider"
)

var upgrader = websocket.Upgrader{}

// fakeRealtime is a minimal realtime endpoint: it records client events and
// plays back scripted server events.
type fakeRealtime struct {
	t      *testing.T
	events chan map[string]any
	conn   chan *websocket.Conn
	auth   chan string
	query  chan string
}

func newFakeRealtime(t *testing.T) (*fakeRealtime, string) {
	t.Helper()
	f := &fakeRealtime{
		t:      t,
		events: make(chan map[string]any, 64),
		conn:   make(chan *websocket.Conn, 1),
		auth:   make(chan string, 1),
		query:  make(chan string, 1),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth <- r.Header.Get("Authorization")
		f.query <- r.URL.Query().Get("model")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conn <- conn
		for {
			var ev map[string]any
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			f.events <- ev
		}
	}))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeRealtime) next() map[string]any {
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(time.Second):
		f.t.Fatal("no client event")
		return nil
	}
}

func (f *fakeRealtime) send(ev map[string]any) {
	select {
	case conn := <-f.conn:
		f.conn <- conn
		if err := conn.WriteJSON(ev); err != nil {
			f.t.Fatalf("server write: %v", err)
		}
	case <-time.After(time.Second):
		f.t.Fatal("no connection")
	}
}

func connectedAdapter(t *testing.T, cfg provider.Config) (*Adapter, *fakeRealtime) {
	t.Helper()
	f, url := newFakeRealtime(t)
	cfg.BaseURL = url
	a := New(cfg)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, f
}

func TestConnectConfiguresSession(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{
		APIKey:       "sk-test",
		Model:        "gpt-4o-realtime-preview",
		Instructions: "Be brief.",
		TurnDetect:   provider.TurnDetection{Mode: provider.TurnDetectServer, Sensitivity: provider.SensitivityHigh},
	})
	defer a.Close()

	if auth := <-f.auth; auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if model := <-f.query; model != "gpt-4o-realtime-preview" {
		t.Errorf("model query = %q", model)
	}

	update := f.next()
	if update["type"] != "session.update" {
		t.Fatalf("first event = %v", update["type"])
	}
	session := update["session"].(map[string]any)
	if session["instructions"] != "Be brief." {
		t.Errorf("instructions = %v", session["instructions"])
	}
	vad := session["turn_detection"].(map[string]any)
	if vad["type"] != "server_vad" {
		t.Errorf("turn_detection = %v", vad)
	}
	if vad["silence_duration_ms"].(float64) != 350 {
		t.Errorf("silence_duration_ms = %v", vad["silence_duration_ms"])
	}
}

func TestConnectLocalModeDisablesVAD(t *testing.T) {
	_, f := connectedAdapter(t, provider.Config{
		APIKey:     "sk-test",
		TurnDetect: provider.TurnDetection{Mode: provider.TurnDetectLocal},
	})
	session := f.next()["session"].(map[string]any)
	vad, present := session["turn_detection"]
	if !present || vad != nil {
		t.Errorf("turn_detection = %v, want explicit null", vad)
	}
}

func TestConnectSeedsHistory(t *testing.T) {
	_, f := connectedAdapter(t, provider.Config{
		APIKey: "sk-test",
		History: []provider.TranscriptEntry{
			{Role: "caller", Text: "hello"},
			{Role: "agent", Text: "hi there"},
		},
	})
	f.next() // session.update

	first := f.next()
	if first["type"] != "conversation.item.create" {
		t.Fatalf("event = %v", first["type"])
	}
	item := first["item"].(map[string]any)
	if item["role"] != "user" {
		t.Errorf("first history role = %v", item["role"])
	}

	second := f.next()
	item = second["item"].(map[string]any)
	if item["role"] != "assistant" {
		t.Errorf("second history role = %v", item["role"])
	}
}

func TestSendAudioAppendsBase64(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "sk-test"})
	f.next() // session.update

	pcm := []byte{1, 2, 3, 4}
	if err := a.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	ev := f.next()
	if ev["type"] != "input_audio_buffer.append" {
		t.Fatalf("event = %v", ev["type"])
	}
	decoded, err := base64.StdEncoding.DecodeString(ev["audio"].(string))
	if err != nil || string(decoded) != string(pcm) {
		t.Errorf("audio payload = %v", ev["audio"])
	}
}

func TestControls(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "sk-test"})
	f.next() // session.update

	if err := a.SendControl(provider.CancelControl{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ev := f.next(); ev["type"] != "response.cancel" {
		t.Errorf("cancel event = %v", ev["type"])
	}

	if err := a.SendControl(provider.CommitControl{}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ev := f.next(); ev["type"] != "input_audio_buffer.commit" {
		t.Errorf("commit event = %v", ev["type"])
	}
	if ev := f.next(); ev["type"] != "response.create" {
		t.Errorf("post-commit event = %v", ev["type"])
	}

	if err := a.SendControl(provider.SpeakControl{Text: "Goodbye."}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	ev := f.next()
	if ev["type"] != "response.create" {
		t.Fatalf("speak event = %v", ev["type"])
	}
	resp := ev["response"].(map[string]any)
	if !strings.Contains(resp["instructions"].(string), "Goodbye.") {
		t.Errorf("speak instructions = %v", resp["instructions"])
	}
}

func TestServerEventsMapToProviderEvents(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "sk-test"})
	f.next() // session.update

	pcm := []byte{9, 8, 7, 6}
	f.send(map[string]any{
		"type":  "response.audio.delta",
		"delta": base64.StdEncoding.EncodeToString(pcm),
	})
	f.send(map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"transcript": "hello agent",
	})
	f.send(map[string]any{"type": "input_audio_buffer.speech_started"})
	f.send(map[string]any{
		"type":     "response.done",
		"response": map[string]any{"status": "cancelled"},
	})

	got := receive(t, a, 4)
	audioEv, ok := got[0].(provider.AudioEvent)
	if !ok || string(audioEv.Data) != string(pcm) {
		t.Errorf("event 0 = %#v", got[0])
	}
	tr, ok := got[1].(provider.TranscriptEvent)
	if !ok || tr.Role != "caller" || tr.Text != "hello agent" || !tr.Final {
		t.Errorf("event 1 = %#v", got[1])
	}
	if _, ok := got[2].(provider.SpeechStartedEvent); !ok {
		t.Errorf("event 2 = %#v", got[2])
	}
	turnDone, ok := got[3].(provider.TurnDoneEvent)
	if !ok || !turnDone.Interrupted {
		t.Errorf("event 3 = %#v", got[3])
	}
}

func TestToolCallEvent(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "sk-test"})
	f.next()

	f.send(map[string]any{
		"type":      "response.function_call_arguments.done",
		"call_id":   "call_1",
		"name":      "transfer_to_human",
		"arguments": `{"reason":"billing"}`,
	})
	got := receive(t, a, 1)
	tc, ok := got[0].(provider.ToolCallEvent)
	if !ok || tc.Name != "transfer_to_human" || tc.ID != "call_1" {
		t.Fatalf("event = %#v", got[0])
	}
	var args struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(tc.Args, &args); err != nil || args.Reason != "billing" {
		t.Errorf("args = %s", tc.Args)
	}
}

func TestFatalErrorCodes(t *testing.T) {
	tests := []struct {
		typ, code string
		fatal     bool
	}{
		{"invalid_request_error", "session_expired", true},
		{"invalid_request_error", "invalid_api_key", true},
		{"server_error", "insufficient_quota", true},
		{"invalid_request_error", "input_audio_buffer_commit_empty", false},
		{"invalid_request_error", "response_cancel_not_active", false},
	}
	for _, tt := range tests {
		if got := fatalErrorCode(tt.typ, tt.code); got != tt.fatal {
			t.Errorf("fatalErrorCode(%q, %q) = %v, want %v", tt.typ, tt.code, got, tt.fatal)
		}
	}
}

func TestSendAfterCloseReturnsErrClosed(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "sk-test"})
	f.next()
	a.Close()
	if err := a.SendAudio([]byte{1}); err != provider.ErrClosed {
		t.Fatalf("SendAudio after close = %v", err)
	}
}

func receive(t *testing.T, a *Adapter, n int) []provider.Event {
	t.Helper()
	got := make([]provider.Event, 0, n)
	for len(got) < n {
		select {
		case ev, ok := <-a.Events():
			if !ok {
				t.Fatalf("events closed after %d of %d", len(got), n)
			}
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}
