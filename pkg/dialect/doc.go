// Package dialect translates between the wire formats of the supported
// completion APIs.
//
// A Dialect identifies one concrete wire schema (request body, response body,
// SSE event stream). Translation is table-driven over the Cartesian product
// of the closed dialect set: request bodies and blocking responses go through
// pure transform functions, and streaming responses go through stateful
// transformers layered over the SSE framing in the sse subpackage.
//
// Transforms are deterministic: synthesized identifiers derive from the
// per-request id chosen at preprocess time, never from a clock or RNG.
package dialect
