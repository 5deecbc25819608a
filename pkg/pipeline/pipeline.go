package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/charon/pkg/dialect"
	"mercator-hq/charon/pkg/keypool"
	"mercator-hq/charon/pkg/models"
	"mercator-hq/charon/pkg/queue"
	"mercator-hq/charon/pkg/telemetry/metrics"
	"mercator-hq/charon/pkg/tokens"
	"mercator-hq/charon/pkg/userstore"
)

// DefaultMaxRetries caps how many times one request may be re-enqueued.
const DefaultMaxRetries = 3

// maxErrorBodyBytes bounds how much of an upstream error body is read.
const maxErrorBodyBytes = 64 * 1024

// Config tunes the pipeline.
type Config struct {
	// MaxRetries is the re-enqueue cap per request.
	MaxRetries int

	// MaxContextTokens caps promptTokens+outputTokens per service, on top of
	// each model's own window. Zero means no proxy-side cap.
	MaxContextTokens map[models.Service]int

	// AllowedFamilies filters which model families the gateway serves.
	// Empty permits everything.
	AllowedFamilies []models.Family

	// StreamIdleTimeout aborts a stream when the upstream sends nothing for
	// this long.
	StreamIdleTimeout time.Duration

	// BaseURLs overrides upstream endpoints per service.
	BaseURLs map[models.Service]string

	// Upstream tunes the HTTP client.
	Upstream UpstreamConfig
}

// Pipeline executes requests end to end. Construct once at startup and share
// across handlers.
type Pipeline struct {
	pool    *keypool.Pool
	queue   *queue.Queue
	counter *tokens.Counter
	users   userstore.Store
	signer  *Signer
	client  *UpstreamClient
	metrics *metrics.Collector
	cfg     Config
	logger  *slog.Logger

	// newID is uuid-backed in production and overridden in tests for
	// reproducible synthesized ids.
	newID func() string
}

// New builds a pipeline. metrics may be nil.
func New(pool *keypool.Pool, q *queue.Queue, users userstore.Store, collector *metrics.Collector, cfg Config) *Pipeline {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.StreamIdleTimeout == 0 {
		cfg.StreamIdleTimeout = 60 * time.Second
	}
	return &Pipeline{
		pool:    pool,
		queue:   q,
		counter: tokens.NewCounter(),
		users:   users,
		signer:  NewSigner(cfg.BaseURLs),
		client:  NewUpstreamClient(cfg.Upstream),
		metrics: collector,
		cfg:     cfg,
		logger:  slog.Default().With("component", "pipeline"),
		newID:   func() string { return uuid.NewString() },
	}
}

// Inbound is a parsed ingress request handed over by the HTTP layer.
type Inbound struct {
	// Dialect is derived from the endpoint path.
	Dialect dialect.Dialect

	// Service is the mounted router's service.
	Service models.Service

	// Body is the raw request body.
	Body []byte

	// ModelOverride carries the model id when the dialect encodes it in the
	// URL (Google AI) rather than the body.
	ModelOverride string

	// StreamOverride forces streaming on or off when the dialect encodes it
	// in the URL (Google AI streamGenerateContent).
	StreamOverride *bool
}

// Execute drives one request through the pipeline and writes the response.
func (p *Pipeline) Execute(w http.ResponseWriter, r *http.Request, in Inbound) {
	req, perr := p.preprocess(in)
	if perr != nil {
		p.respondError(w, in.Dialect, perr)
		return
	}

	p.logger.Info("request accepted",
		"request_id", req.ID,
		"service", req.Service,
		"family", req.Family,
		"model", req.Model,
		"stream", req.IsStreaming,
		"prompt_tokens", req.PromptTokens,
	)

	p.run(w, r, req)
}

// preprocess normalizes the model, translates the body into the upstream
// dialect, counts tokens and validates the context window.
func (p *Pipeline) preprocess(in Inbound) (*Request, *Error) {
	stats, err := dialect.InspectRequest(in.Dialect, in.Body)
	if err != nil {
		var schemaErr *dialect.SchemaError
		if errors.As(err, &schemaErr) {
			return nil, &Error{Type: ErrBadRequest, Message: schemaErr.Message}
		}
		return nil, newError(ErrBadRequest, "unreadable request body")
	}

	requested := stats.Model
	if in.ModelOverride != "" {
		requested = in.ModelOverride
	}
	model := models.MaybeReassignModel(requested)
	family, ok := models.ResolveForService(model, in.Service)
	if !ok {
		return nil, newError(ErrBadRequest, "unknown model %q for service %s", requested, in.Service)
	}
	if len(p.cfg.AllowedFamilies) > 0 {
		if allowed := models.FilterFamilies([]models.Family{family}, p.cfg.AllowedFamilies); len(allowed) == 0 {
			return nil, newError(ErrBadRequest, "model family %q is not served by this gateway", family)
		}
	}

	isStreaming := stats.Stream
	if in.StreamOverride != nil {
		isStreaming = *in.StreamOverride
	}

	outputTokens := stats.MaxTokens
	if outputTokens <= 0 {
		outputTokens = models.MaxOutputTokens(model)
	}
	promptTokens := p.counter.CountPrompt(in.Dialect, stats)

	// Context admission: the prompt plus the output reservation must fit the
	// smaller of the model window and the proxy-wide cap.
	limit := models.ContextWindow(model)
	if proxyMax := p.cfg.MaxContextTokens[in.Service]; proxyMax > 0 && proxyMax < limit {
		limit = proxyMax
	}
	if promptTokens+outputTokens > limit {
		return nil, newError(ErrContextTooLarge,
			"prompt is %d tokens and requests %d output tokens, but the limit for %s is %d",
			promptTokens, outputTokens, model, limit)
	}

	outDialect := dialect.ForService(in.Service)
	id := p.newID()
	body, err := dialect.TransformRequest(in.Dialect, outDialect, in.Body, dialect.RequestMeta{
		RequestID:    id,
		Model:        model,
		Stream:       isStreaming,
		MaxTokensCap: outputTokens,
	})
	if err != nil {
		var schemaErr *dialect.SchemaError
		if errors.As(err, &schemaErr) {
			return nil, &Error{Type: ErrBadRequest, Message: schemaErr.Message}
		}
		return nil, &Error{Type: ErrInternal, Message: "request translation failed", Cause: err}
	}

	body, err = applyServiceQuirks(in.Service, body)
	if err != nil {
		return nil, &Error{Type: ErrInternal, Message: "service transform failed", Cause: err}
	}

	return &Request{
		ID:             id,
		InDialect:      in.Dialect,
		OutDialect:     outDialect,
		Service:        in.Service,
		Family:         family,
		RequestedModel: requested,
		Model:          model,
		Body:           body,
		IsStreaming:    isStreaming,
		PromptTokens:   promptTokens,
		OutputTokens:   outputTokens,
		Tokenizer: TokenizerInfo{
			PromptTokens: promptTokens,
			Images:       stats.Images,
			Tokenizer:    string(in.Dialect),
		},
	}, nil
}

// applyServiceQuirks runs the per-service body tweaks that sit outside the
// dialect tables.
func applyServiceQuirks(svc models.Service, body []byte) ([]byte, error) {
	switch svc {
	case models.ServiceQwen:
		// Qwen3 defaults thinking mode on; the gateway pins it off so
		// responses match the OpenAI-dialect contract.
		var m map[string]json.RawMessage
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		m["enable_thinking"] = json.RawMessage("false")
		return json.Marshal(m)
	default:
		return body, nil
	}
}

// run is the enqueue → dispatch → upstream loop, bounded by the retry cap.
func (p *Pipeline) run(w http.ResponseWriter, r *http.Request, req *Request) {
	ctx := r.Context()
	userToken := headerToken(r)

	for {
		grantCh, err := p.queue.Enqueue(ctx, req.Service, req.Family, req.Model)
		if err != nil {
			p.respondError(w, req.InDialect, newError(ErrUpstreamUnavailable, "gateway is shutting down"))
			return
		}

		var grant queue.Grant
		select {
		case <-ctx.Done():
			// Client disconnected while queued; the dispatcher drops the
			// ticket when it reaches the head.
			p.logger.Debug("client disconnected in queue", "request_id", req.ID)
			return
		case g, ok := <-grantCh:
			if !ok {
				p.respondError(w, req.InDialect, newError(ErrNoKeysAvailable,
					"no keys available for model %q", req.Model))
				return
			}
			grant = g
		}

		req.Key = grant.Key
		if p.metrics != nil {
			p.metrics.RecordQueueWait(string(req.Service), string(req.Family), grant.Waited)
		}

		// Charge the user for the attempt up front; content-policy refusals
		// refund it (refundLastAttempt).
		if p.users != nil && userToken != "" {
			p.users.IncrementPromptCount(ctx, userToken)
			p.users.IncrementTokenCount(ctx, userToken, req.Model, string(req.InDialect), int64(req.PromptTokens), 0)
		}

		if err := p.signer.Sign(ctx, req); err != nil {
			p.queue.OnComplete(req.Service, req.Family)
			p.respondError(w, req.InDialect, &Error{Type: ErrInternal, Message: "failed to finalize upstream request", Cause: err})
			return
		}

		start := time.Now()
		resp, err := p.client.Do(ctx, req.Signed)
		if err != nil {
			p.queue.OnComplete(req.Service, req.Family)
			if ctx.Err() != nil {
				return
			}
			if p.retry(req, Verdict{Class: ClassUpstreamUnavail, Retry: true}) {
				continue
			}
			p.respondError(w, req.InDialect, &Error{Type: ErrUpstreamUnavailable, Message: "upstream unreachable", Cause: err})
			return
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			p.succeed(w, r, req, resp, userToken, start)
			return
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		p.queue.OnComplete(req.Service, req.Family)

		verdict := Classify(req.Service, resp.StatusCode, body)
		p.applyKeyActions(req, verdict)
		p.logger.Warn("upstream error",
			"request_id", req.ID,
			"key", req.Key.Hash,
			"status", resp.StatusCode,
			"classification", verdict.Class,
			"stage", "upstream",
		)
		if verdict.Class == ClassUnknown {
			p.logger.Error("unclassified upstream error",
				"request_id", req.ID,
				"status", resp.StatusCode,
				"body", truncate(string(body), 128),
			)
		}

		if verdict.Refund {
			p.refundLastAttempt(ctx, req, userToken)
		}

		if verdict.Retry && p.retry(req, verdict) {
			continue
		}

		p.respondUpstream(w, req, resp.StatusCode, body, verdict)
		return
	}
}

// retry reverts per-attempt mutations and reports whether the request may
// re-enter the queue.
func (p *Pipeline) retry(req *Request, verdict Verdict) bool {
	if req.RetryCount >= p.cfg.MaxRetries {
		return false
	}
	req.RetryCount++
	req.RevertChanges()
	if p.metrics != nil {
		p.metrics.RecordRetry(string(req.Service), string(verdict.Class))
	}
	p.logger.Info("request re-enqueued",
		"request_id", req.ID,
		"retry", req.RetryCount,
		"classification", verdict.Class,
	)
	return true
}

// applyKeyActions mutates key state per the classifier's verdict.
func (p *Pipeline) applyKeyActions(req *Request, v Verdict) {
	switch v.Class {
	case ClassKeyRevoked:
		p.pool.Disable(req.Key, keypool.ReasonRevoked)
	case ClassKeyQuota:
		if v.FamilyQuota {
			p.pool.MarkFamilyOverQuota(req.Service, req.Key.Hash, req.Family)
		} else {
			p.pool.Disable(req.Key, keypool.ReasonQuota)
		}
	case ClassKeyRateLimited:
		p.pool.MarkRateLimited(req.Key)
	case ClassKeyModelAccessLost:
		if v.NarrowModelAccess {
			p.pool.RemoveFamily(req.Service, req.Key.Hash, req.Family)
		}
	}
	if v.SetRequiresPreamble {
		p.pool.Update(req.Service, req.Key.Hash, keypool.Patch{RequiresPreamble: keypool.Bool(true)})
	}
	if v.DisableMultimodality {
		p.pool.Update(req.Service, req.Key.Hash, keypool.Patch{AllowsMultimodality: keypool.Bool(false)})
	}
}

// refundLastAttempt returns the attempt's token credit to the user. Key
// usage is untouched: the upstream did bill the tokens.
func (p *Pipeline) refundLastAttempt(ctx context.Context, req *Request, userToken string) {
	if p.users == nil || userToken == "" {
		return
	}
	p.users.IncrementTokenCount(ctx, userToken, req.Model, string(req.InDialect), -int64(req.PromptTokens), 0)
}

// headerToken extracts the client's access token for accounting.
func headerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
