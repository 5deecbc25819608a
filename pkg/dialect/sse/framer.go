package sse

import (
	"bytes"
	"strings"
)

// Done is the sentinel data payload that terminates OpenAI-style streams.
const Done = "[DONE]"

// RawEvent is one framed SSE event.
type RawEvent struct {
	// Name is the value of the event: field, empty when absent.
	Name string

	// Data is the joined data: payload (multi-line data fields are joined
	// with newlines, per the SSE spec).
	Data string

	// Raw is the original bytes of the event, terminator excluded.
	Raw []byte
}

// IsDone reports whether the event is the [DONE] sentinel.
func (e *RawEvent) IsDone() bool {
	return e.Data == Done
}

// Framer incrementally parses an SSE byte stream into events. The zero value
// is ready to use.
type Framer struct {
	buf []byte
	pos int
}

// Reset discards all buffered state.
func (f *Framer) Reset() {
	f.buf = nil
	f.pos = 0
}

// Push appends bytes to the buffer and returns every event completed by
// them. Events split across pushes are held until their terminator arrives.
func (f *Framer) Push(p []byte) []RawEvent {
	f.buf = append(f.buf, p...)

	var events []RawEvent
	for {
		rest := f.buf[f.pos:]
		idx, skip := eventTerminator(rest)
		if idx < 0 {
			break
		}
		chunk := rest[:idx]
		f.pos += idx + skip
		if ev, ok := parseEvent(chunk); ok {
			events = append(events, ev)
		}
	}

	// Drop consumed bytes once the buffer grows past a threshold, keeping
	// amortized cost linear.
	if f.pos > 64*1024 {
		f.buf = append([]byte(nil), f.buf[f.pos:]...)
		f.pos = 0
	}
	return events
}

// Tail returns any buffered, unterminated bytes. Used for logging when a
// stream is cut mid-event.
func (f *Framer) Tail() []byte {
	return f.buf[f.pos:]
}

// eventTerminator finds the first blank-line terminator in p, returning its
// index and length, or (-1, 0) when incomplete.
func eventTerminator(p []byte) (int, int) {
	// Accept \n\n and \r\n\r\n terminators.
	nn := bytes.Index(p, []byte("\n\n"))
	rnrn := bytes.Index(p, []byte("\r\n\r\n"))
	switch {
	case nn < 0 && rnrn < 0:
		return -1, 0
	case rnrn >= 0 && (nn < 0 || rnrn < nn):
		return rnrn, 4
	default:
		return nn, 2
	}
}

// parseEvent parses one terminated event chunk. Comment-only and empty
// chunks report ok=false.
func parseEvent(chunk []byte) (RawEvent, bool) {
	ev := RawEvent{Raw: append([]byte(nil), chunk...)}
	var dataLines []string
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// id: and retry: fields, and ":" comments, are ignored.
	}
	if ev.Name == "" && len(dataLines) == 0 {
		return RawEvent{}, false
	}
	ev.Data = strings.Join(dataLines, "\n")
	return ev, true
}
