package pipeline

import (
	"net/http"

	"mercator-hq/charon/pkg/dialect"
	"mercator-hq/charon/pkg/keypool"
	"mercator-hq/charon/pkg/models"
)

// SignedRequest is the finalized upstream call: the only form the gateway
// actually sends.
type SignedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// TokenizerInfo records the counts the tokenizer produced, for logging.
type TokenizerInfo struct {
	PromptTokens int
	Images       int
	Tokenizer    string
}

// Request is the per-request record. It is created on HTTP ingress, may
// outlive several upstream attempts through re-enqueues, and is destroyed
// when the client response completes or the client disconnects.
type Request struct {
	// ID seeds every synthesized identifier for this request.
	ID string

	InDialect  dialect.Dialect
	OutDialect dialect.Dialect

	Service models.Service
	Family  models.Family

	// RequestedModel is the model string as the client sent it; Model is the
	// canonical upstream identifier after reassignment.
	RequestedModel string
	Model          string

	// Body is the request body translated into the upstream dialect.
	Body []byte

	IsStreaming  bool
	PromptTokens int
	OutputTokens int

	RetryCount int

	// Key is the credential chosen at dispatch time, re-chosen per attempt.
	Key keypool.Key

	// Signed is the finalized upstream request for the current attempt.
	Signed *SignedRequest

	Tokenizer TokenizerInfo

	changes changeManager
}

// changeManager is a revertable log of per-attempt body mutations. The
// signers mutate Body (Bedrock and Vertex rewrite the Anthropic envelope);
// before each re-enqueue the body is restored so mutations do not stack.
type changeManager struct {
	originalBody []byte
	dirty        bool
}

// RecordBody snapshots the body before the first per-attempt mutation.
func (r *Request) RecordBody() {
	if !r.changes.dirty {
		r.changes.originalBody = append([]byte(nil), r.Body...)
		r.changes.dirty = true
	}
}

// RevertChanges restores the pre-attempt body and discards the signed form.
// Called before every re-enqueue.
func (r *Request) RevertChanges() {
	if r.changes.dirty {
		r.Body = r.changes.originalBody
		r.changes.originalBody = nil
		r.changes.dirty = false
	}
	r.Signed = nil
	r.Key = keypool.Key{}
}
