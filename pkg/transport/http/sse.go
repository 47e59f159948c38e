package http

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// streamState tracks the state of an event stream writer.
type streamState int

const (
	streamIdle streamState = iota // no event written yet
	streamOpen                    // endpoint event sent, message events may follow
)

// eventStreamWriter emits the two SSE event types of the transport. The
// endpoint event must be written first; it carries the URI the client
// should POST messages to. Every subsequent broadcast is written as a
// message event:
//
//	event: endpoint\ndata: {uri}\n\n
//	event: message\ndata: {json}\n\n
//
// Each write is flushed immediately so events reach the peer without
// buffering delay.
type eventStreamWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state streamState
}

// newEventStreamWriter creates an eventStreamWriter wrapping an
// http.ResponseWriter.
func newEventStreamWriter(w http.ResponseWriter) *eventStreamWriter {
	return &eventStreamWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// WriteEndpoint sets the SSE headers and sends the framing event carrying
// the submission URI. It must be called exactly once, before any message
// event.
func (s *eventStreamWriter) WriteEndpoint(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != streamIdle {
		return errors.New("endpoint event already sent")
	}

	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.state = streamOpen

	if _, err := fmt.Fprintf(s.w, "event: endpoint\ndata: %s\n\n", uri); err != nil {
		return fmt.Errorf("failed to write endpoint event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush endpoint event: %w", err)
	}
	return nil
}

// WriteMessage sends one outbound protocol message as a message event.
// Returns an error if the endpoint event has not been sent yet or the
// peer is gone.
func (s *eventStreamWriter) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != streamOpen {
		return errors.New("cannot write message event before endpoint event")
	}

	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write message event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush message event: %w", err)
	}
	return nil
}
