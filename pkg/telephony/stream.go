package telephony

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStreamClosed is returned by writes after the stream has been closed.
var ErrStreamClosed = errors.New("telephony stream closed")

// Stream wraps one media-stream websocket. Reads happen from a single
// reader (the session's inbound pump); writes are serialized internally so
// the outbound pump and control paths can interleave safely.
type Stream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  bool
}

// NewStream wraps an upgraded websocket connection.
func NewStream(conn *websocket.Conn, writeTimeout time.Duration) *Stream {
	return &Stream{conn: conn, writeTimeout: writeTimeout}
}

// Read blocks for the next inbound frame and decodes it.
func (s *Stream) Read() (Message, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	return Decode(data)
}

// SendMedia writes one audio frame toward the caller.
func (s *Stream) SendMedia(seq int64, payload []byte) error {
	data, err := encodeMedia(seq, payload)
	if err != nil {
		return err
	}
	return s.write(data)
}

// SendMark asks the PBX to echo a checkpoint once audio queued before it has
// been played to the caller.
func (s *Stream) SendMark(name string) error {
	data, err := encodeMark(name)
	if err != nil {
		return err
	}
	return s.write(data)
}

// SendClear flushes the PBX playback buffer. Used on barge-in so the caller
// stops hearing the canceled agent response within one frame.
func (s *Stream) SendClear() error {
	data, err := encodeClear()
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *Stream) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// Upgrader upgrades inbound HTTP requests from the telephony platform into
// media streams. Origin checking is disabled: callers are PBX processes, not
// browsers, and are authenticated upstream.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}
