// Package telephony implements the bridge's side of the telephony media
// transport: the websocket media-stream protocol frames, a connection
// wrapper with serialized writes, and the HTTP client for the call-control
// plane. The bridge consumes these interfaces; it does not implement the
// call-control plane itself.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxlane/voicebridge/pkg/audio"
)

// DecodeError is a protocol decode failure with a stable error code.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func badFrame(format string, args ...any) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: fmt.Sprintf(format, args...)}
}

// Message is one inbound media-stream frame. Exactly one of the pointer
// fields is set, matching Event.
type Message struct {
	Event string `json:"event"`
	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Mark  *Mark  `json:"mark,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
}

// Start opens a media stream for one call leg.
type Start struct {
	CallID       string       `json:"call_id"`
	TenantID     string       `json:"tenant_id"`
	Caller       string       `json:"caller,omitempty"`
	Format       audio.Format `json:"format"`
	FrameMs      int          `json:"frame_ms,omitempty"`
	RecordingURL string       `json:"recording_url,omitempty"`
}

// Media carries one fixed-duration audio frame, base64 on the wire.
type Media struct {
	Seq     int64  `json:"seq"`
	Payload string `json:"payload"`
}

// Decoded returns the raw audio bytes of the frame.
func (m *Media) Decoded() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, badFrame("invalid media payload: %v", err)
	}
	return data, nil
}

// Mark is the PBX echoing back a playback checkpoint previously sent by the
// bridge.
type Mark struct {
	Name string `json:"name"`
}

// Stop signals the telephony side ended the stream.
type Stop struct {
	Reason string `json:"reason,omitempty"`
}

// DefaultFrameMs is assumed when the start frame omits frame duration.
const DefaultFrameMs = 20

// Decode parses one inbound frame and validates its shape.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, badFrame("invalid json: %v", err)
	}
	switch msg.Event {
	case "start":
		if msg.Start == nil {
			return Message{}, badFrame("start frame missing body")
		}
		if strings.TrimSpace(msg.Start.CallID) == "" {
			return Message{}, badFrame("start frame missing call_id")
		}
		if strings.TrimSpace(msg.Start.TenantID) == "" {
			return Message{}, badFrame("start frame missing tenant_id")
		}
		if msg.Start.FrameMs == 0 {
			msg.Start.FrameMs = DefaultFrameMs
		}
	case "media":
		if msg.Media == nil {
			return Message{}, badFrame("media frame missing body")
		}
	case "mark":
		if msg.Mark == nil {
			return Message{}, badFrame("mark frame missing body")
		}
	case "stop":
		if msg.Stop == nil {
			msg.Stop = &Stop{}
		}
	case "":
		return Message{}, badFrame("frame missing event")
	default:
		return Message{}, badFrame("unknown event %q", msg.Event)
	}
	return msg, nil
}

// Outbound frames produced by the bridge.

type outMedia struct {
	Event string `json:"event"`
	Media Media  `json:"media"`
}

type outMark struct {
	Event string `json:"event"`
	Mark  Mark   `json:"mark"`
}

// outClear tells the PBX to drop any queued playback immediately (barge-in).
type outClear struct {
	Event string `json:"event"`
}

func encodeMedia(seq int64, payload []byte) ([]byte, error) {
	return json.Marshal(outMedia{
		Event: "media",
		Media: Media{Seq: seq, Payload: base64.StdEncoding.EncodeToString(payload)},
	})
}

func encodeMark(name string) ([]byte, error) {
	return json.Marshal(outMark{Event: "mark", Mark: Mark{Name: name}})
}

func encodeClear() ([]byte, error) {
	return json.Marshal(outClear{Event: "clear"})
}
