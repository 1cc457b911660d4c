package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

var ErrClosed = errors.New("sse: stream already terminated")

// Writer emits frames and flushes after each one. Once a terminal frame has
// been written every further write is rejected with ErrClosed, so a stream
// carries at most one terminal frame.
type Writer struct {
	mu         sync.Mutex
	w          io.Writer
	flusher    http.Flusher
	terminated bool
}

// NewWriter wraps w. If w implements http.Flusher it is flushed after every
// frame.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

func (s *Writer) Text(delta string) error {
	return s.write(Frame{Text: &delta}, false)
}

func (s *Writer) Done() error {
	return s.write(Frame{Done: true}, true)
}

func (s *Writer) Error(msg string) error {
	if msg == "" {
		msg = "error"
	}
	return s.write(Frame{Error: msg}, true)
}

// Comment writes a line decoders ignore. Used as a keep-alive.
func (s *Writer) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Terminated reports whether done or error has been written.
func (s *Writer) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func (s *Writer) write(f Frame, terminal bool) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return ErrClosed
	}
	if terminal {
		s.terminated = true
	}
	if _, err := fmt.Fprintf(s.w, "%s%s\n\n", DataPrefix, b); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *Writer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
