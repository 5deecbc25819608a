// Package metrics exposes the gateway's Prometheus instrumentation.
//
// Metrics:
//   - charon_requests_total: completed requests by service, family, outcome
//   - charon_upstream_latency_seconds: upstream attempt latency
//   - charon_queue_depth: queued requests per partition
//   - charon_queue_wait_seconds: time spent in the admission queue
//   - charon_tokens_total: tokens processed by family and direction
//   - charon_keys: pooled keys by service and lifecycle state
//   - charon_retries_total: re-enqueues by service and classification
package metrics
