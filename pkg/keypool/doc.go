// Package keypool manages the pooled upstream credentials.
//
// Each service owns an independent registry of credential records. Records
// carry lifecycle state (disabled, revoked, over-quota, rate-limit window),
// per-family token usage counters, and service-specific attributes. The pool
// hands out value copies of the least-recently-used eligible key and applies
// a short reuse delay so the dispatcher cannot flood a single key before the
// fate of its in-flight request is known.
//
// Mutations are serialized per service. Callers never hold references into
// the pool; every Get and List returns deep copies.
package keypool
