// Package queue implements the partitioned admission queue and its
// dispatcher.
//
// Requests queue in one FIFO per (service, model family) partition. Billing
// and rate-limit boundaries coincide with partitions, so head-of-line
// blocking on one family never stalls another. A single dispatcher visits
// non-empty partitions round-robin on every enqueue, completion, key-state
// change and periodic tick, handing out keys to the requests at partition
// heads.
//
// Ordering: within a partition, requests dispatch in FIFO order of their
// first enqueue. A re-enqueued request joins the tail. There is no ordering
// guarantee across partitions or across keys.
package queue
