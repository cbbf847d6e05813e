package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlane/voicebridge/pkg/provider"
)

var upgrader = websocket.Upgrader{}

type fakeAgent struct {
	t      *testing.T
	text   chan map[string]any
	binary chan []byte
	conn   chan *websocket.Conn
	auth   chan string
}

func newFakeAgent(t *testing.T) (*fakeAgent, string) {
	t.Helper()
	f := &fakeAgent{
		t:      t,
		text:   make(chan map[string]any, 64),
		binary: make(chan []byte, 64),
		conn:   make(chan *websocket.Conn, 1),
		auth:   make(chan string, 1),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conn <- conn
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.BinaryMessage {
				f.binary <- data
				continue
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				f.text <- msg
			}
		}
	}))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeAgent) nextText() map[string]any {
	select {
	case msg := <-f.text:
		return msg
	case <-time.After(time.Second):
		f.t.Fatal("no text frame")
		return nil
	}
}

func (f *fakeAgent) send(msg map[string]any) {
	conn := <-f.conn
	f.conn <- conn
	if err := conn.WriteJSON(msg); err != nil {
		f.t.Fatalf("server write: %v", err)
	}
}

func (f *fakeAgent) sendBinary(data []byte) {
	conn := <-f.conn
	f.conn <- conn
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		f.t.Fatalf("server write: %v", err)
	}
}

func connectedAdapter(t *testing.T, cfg provider.Config) (*Adapter, *fakeAgent) {
	t.Helper()
	f, url := newFakeAgent(t)
	cfg.BaseURL = url
	a := New(cfg)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, f
}

func TestConnectSendsSettings(t *testing.T) {
	_, f := connectedAdapter(t, provider.Config{
		APIKey:       "dg-key",
		Instructions: "Answer support calls.",
		History: []provider.TranscriptEntry{
			{Role: "caller", Text: "earlier question"},
		},
	})

	if auth := <-f.auth; auth != "Token dg-key" {
		t.Errorf("Authorization = %q", auth)
	}

	settings := f.nextText()
	if settings["type"] != "Settings" {
		t.Fatalf("first frame = %v", settings["type"])
	}
	agent := settings["agent"].(map[string]any)
	think := agent["think"].(map[string]any)
	if think["prompt"] != "Answer support calls." {
		t.Errorf("prompt = %v", think["prompt"])
	}
	audioCfg := settings["audio"].(map[string]any)
	input := audioCfg["input"].(map[string]any)
	if input["encoding"] != "linear16" || input["sample_rate"].(float64) != 16000 {
		t.Errorf("input audio = %v", input)
	}

	contextCfg := settings["context"].(map[string]any)
	messages := contextCfg["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("history messages = %d", len(messages))
	}
	first := messages[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "earlier question" {
		t.Errorf("history entry = %v", first)
	}
}

func TestAudioIsBinaryBothWays(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "dg-key"})
	f.nextText() // settings

	out := []byte{1, 2, 3, 4}
	if err := a.SendAudio(out); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case got := <-f.binary:
		if string(got) != string(out) {
			t.Errorf("upstream audio = %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no binary frame upstream")
	}

	f.sendBinary([]byte{9, 9})
	ev := receiveOne(t, a)
	audioEv, ok := ev.(provider.AudioEvent)
	if !ok || len(audioEv.Data) != 2 {
		t.Fatalf("event = %#v", ev)
	}
}

func TestAgentEventsMap(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "dg-key"})
	f.nextText()

	f.send(map[string]any{"type": "UserStartedSpeaking"})
	f.send(map[string]any{"type": "ConversationText", "role": "user", "content": "my order is late"})
	f.send(map[string]any{"type": "AgentStartedSpeaking"})
	f.send(map[string]any{"type": "ConversationText", "role": "assistant", "content": "let me check"})
	f.send(map[string]any{"type": "AgentAudioDone"})

	if _, ok := receiveOne(t, a).(provider.SpeechStartedEvent); !ok {
		t.Error("expected SpeechStartedEvent")
	}
	tr := receiveOne(t, a).(provider.TranscriptEvent)
	if tr.Role != "caller" || tr.Text != "my order is late" {
		t.Errorf("caller transcript = %+v", tr)
	}
	if _, ok := receiveOne(t, a).(provider.TurnStartedEvent); !ok {
		t.Error("expected TurnStartedEvent")
	}
	tr = receiveOne(t, a).(provider.TranscriptEvent)
	if tr.Role != "agent" || tr.Text != "let me check" {
		t.Errorf("agent transcript = %+v", tr)
	}
	if _, ok := receiveOne(t, a).(provider.TurnDoneEvent); !ok {
		t.Error("expected TurnDoneEvent")
	}
}

func TestSpeakInjectsAgentMessage(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "dg-key"})
	f.nextText()

	if err := a.SendControl(provider.SpeakControl{Text: "Transferring you now."}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	msg := f.nextText()
	if msg["type"] != "InjectAgentMessage" || msg["message"] != "Transferring you now." {
		t.Errorf("frame = %v", msg)
	}
}

func TestErrorFrameIsFatal(t *testing.T) {
	a, f := connectedAdapter(t, provider.Config{APIKey: "dg-key"})
	f.nextText()

	f.send(map[string]any{"type": "Error", "code": "AUTH_FAILED", "description": "bad key"})
	ev := receiveOne(t, a)
	errEv, ok := ev.(provider.ErrorEvent)
	if !ok || !errEv.Fatal {
		t.Fatalf("event = %#v", ev)
	}
	if !errors.Is(errEv.Err, provider.ErrFatal) {
		t.Errorf("Err = %v, want ErrFatal in chain", errEv.Err)
	}
}

func receiveOne(t *testing.T, a *Adapter) provider.Event {
	t.Helper()
	select {
	case ev, ok := <-a.Events():
		if !ok {
			t.Fatal("events closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return nil
	}
}
