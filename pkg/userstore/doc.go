// Package userstore is the per-user accounting collaborator.
//
// The pipeline calls it as each upstream attempt is dispatched, to credit one
// prompt and the prompt tokens against the client's access token, and again
// after a successful response to credit completion tokens. Two implementations are
// provided: an in-memory store for tests and stateless deployments, and a
// SQLite-backed store for single-instance deployments that want usage to
// survive restarts.
package userstore
