package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
)

// Emitter receives the downstream side of a relay.
type Emitter interface {
	// Emit sends one content fragment.
	Emit(content string) error
	// Fail sends an error frame. The stream must still be terminated with Done.
	Fail(message string) error
	// Done sends the terminal frame.
	Done() error
}

// ErrStreamClosed is returned when writing after Done.
var ErrStreamClosed = errors.New("stream already closed")

var doneFrame = []byte("data: [DONE]\n\n")

// SSEWriter writes relay frames to an HTTP response as server-sent events.
type SSEWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	closed  bool
}

// NewSSEWriter wraps w. Headers are sent with the first frame.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	return &SSEWriter{w: w, rc: http.NewResponseController(w)}
}

// Start sends the event-stream headers. It is called implicitly by the first frame.
func (s *SSEWriter) Start() error {
	if s.started {
		return nil
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

func (s *SSEWriter) Emit(content string) error {
	return s.writeJSON(struct {
		Content string `json:"content"`
	}{content})
}

func (s *SSEWriter) Fail(message string) error {
	return s.writeJSON(struct {
		Error string `json:"error"`
	}{message})
}

func (s *SSEWriter) Done() error {
	if err := s.write(doneFrame); err != nil {
		return err
	}
	s.closed = true
	return nil
}

func (s *SSEWriter) writeJSON(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	frame := make([]byte, 0, buf.Len()+8)
	frame = append(frame, "data: "...)
	frame = append(frame, bytes.TrimRight(buf.Bytes(), "\n")...)
	frame = append(frame, "\n\n"...)
	return s.write(frame)
}

func (s *SSEWriter) write(frame []byte) error {
	if s.closed {
		return ErrStreamClosed
	}
	if err := s.Start(); err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.flush()
}

func (s *SSEWriter) flush() error {
	err := s.rc.Flush()
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}
