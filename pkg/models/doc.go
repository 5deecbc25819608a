// Package models is the static model-family registry.
//
// It maps raw model identifier strings to a (Family, Service) pair through an
// ordered list of regex rules, owns the per-model context-window table and the
// per-family token cost table, and normalizes loose client-side model names to
// canonical provider identifiers.
//
// The registry is immutable after process start; all lookups are lock-free.
package models
