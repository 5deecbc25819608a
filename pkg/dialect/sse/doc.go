// Package sse frames Server-Sent Event streams.
//
// The framer is push-based: callers feed it raw bytes as they arrive off the
// socket, in whatever chunk sizes the transport produced, and receive
// complete events. Partial events are buffered across pushes; an event is
// complete at its blank-line terminator.
package sse
