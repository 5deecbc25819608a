// Package gateway is the HTTP surface of the proxy.
//
// One router is mounted per service at /<service>, each exposing the OpenAI
// chat-completions endpoint plus the service's native endpoints (Anthropic
// messages, Google AI generateContent). The root path serves the cached info
// document; /health and /metrics serve liveness and Prometheus scrapes.
package gateway
