package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/charon/pkg/dialect"
	"mercator-hq/charon/pkg/models"
)

// succeed handles a 2xx upstream response: stream or blocking, then
// postprocess.
func (p *Pipeline) succeed(w http.ResponseWriter, r *http.Request, req *Request, resp *http.Response, userToken string, start time.Time) {
	defer p.queue.OnComplete(req.Service, req.Family)

	p.trackKeyRateLimit(req, resp.Header)

	if req.IsStreaming {
		p.streamResponse(w, r, req, resp, userToken, start)
		return
	}
	p.blockingResponse(w, r, req, resp, userToken, start)
}

// blockingResponse reads the whole upstream body, translates it into the
// client dialect and responds.
func (p *Pipeline) blockingResponse(w http.ResponseWriter, r *http.Request, req *Request, resp *http.Response, userToken string, start time.Time) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		p.respondError(w, req.InDialect, &Error{Type: ErrUpstreamUnavailable, Message: "upstream response truncated", Cause: err})
		return
	}

	out, err := dialect.TransformResponse(req.OutDialect, req.InDialect, body, dialect.RequestMeta{
		RequestID: req.ID,
		Model:     req.RequestedModel,
	})
	if err != nil {
		p.respondError(w, req.InDialect, &Error{Type: ErrUpstreamUnavailable, Message: "upstream response unparseable", Cause: err})
		return
	}

	// Recount completion tokens from the actual response; the upstream's own
	// accounting wins when present.
	completion, text, err := dialect.CompletionTokens(req.OutDialect, body)
	if err == nil && completion == 0 && text != "" {
		completion = p.counter.CountText(req.OutDialect, text)
	}
	req.OutputTokens = completion

	p.postprocess(r.Context(), req, userToken, start, "success")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// streamResponse interposes the SSE transformer between the upstream and the
// client, honoring the idle timeout and client cancellation.
func (p *Pipeline) streamResponse(w http.ResponseWriter, r *http.Request, req *Request, resp *http.Response, userToken string, start time.Time) {
	ctx := r.Context()
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	// Bedrock responses are blocking JSON: synthesize the client stream.
	if !upstreamStreams(req) {
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			p.writeStreamError(w, flusher, req, "upstream response truncated")
			return
		}
		events, err := dialect.BlockingToEvents(req.OutDialect, req.InDialect, body, dialect.RequestMeta{
			RequestID: req.ID,
			Model:     req.RequestedModel,
		})
		if err != nil {
			p.writeStreamError(w, flusher, req, "upstream response unparseable")
			return
		}
		for _, ev := range events {
			writeEvent(w, flusher, ev)
		}
		completion, _, _ := dialect.CompletionTokens(req.OutDialect, body)
		req.OutputTokens = completion
		p.postprocess(ctx, req, userToken, start, "success")
		return
	}

	tr, err := dialect.NewStreamTransformer(req.OutDialect, req.InDialect, req.ID, req.RequestedModel)
	if err != nil {
		resp.Body.Close()
		p.writeStreamError(w, flusher, req, "stream transform unavailable")
		return
	}
	tr.OnRaw = func(raw []byte) {
		p.logger.Debug("upstream event", "request_id", req.ID, "bytes", len(raw))
	}

	// Reader goroutine feeds chunks; the select loop enforces the idle
	// timeout and observes client cancellation at chunk boundaries.
	chunks := make(chan []byte, 4)
	readErr := make(chan error, 1)
	go func() {
		defer close(chunks)
		buf := make([]byte, 8*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	idle := time.NewTimer(p.cfg.StreamIdleTimeout)
	defer idle.Stop()
	defer resp.Body.Close()

	outcome := "success"
loop:
	for {
		select {
		case <-ctx.Done():
			// Client went away: close the upstream socket within one chunk
			// boundary, keep whatever usage already streamed. No re-enqueue.
			outcome = "cancelled"
			break loop

		case <-idle.C:
			p.logger.Warn("stream idle timeout", "request_id", req.ID, "key", req.Key.Hash)
			writeEvent(w, flusher, dialect.ErrorEvent(req.InDialect, "upstream stalled", string(ErrUpstreamUnavailable)))
			for _, ev := range tr.Close() {
				writeEvent(w, flusher, ev)
			}
			outcome = "idle_timeout"
			break loop

		case chunk, ok := <-chunks:
			if !ok {
				// Upstream closed; drain the read error and finish.
				select {
				case err := <-readErr:
					if err != io.EOF {
						p.logger.Warn("upstream read error", "request_id", req.ID, "error", err)
					}
				default:
				}
				for _, ev := range tr.Close() {
					writeEvent(w, flusher, ev)
				}
				break loop
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.StreamIdleTimeout)

			events, err := tr.Push(chunk)
			for _, ev := range events {
				writeEvent(w, flusher, ev)
			}
			if err != nil {
				p.logger.Error("stream transform error",
					"request_id", req.ID,
					"error", err,
					"last_event", truncate(string(tr.LastEventRaw()), 128),
				)
				writeEvent(w, flusher, dialect.ErrorEvent(req.InDialect, "malformed upstream event", string(ErrUpstreamUnavailable)))
				for _, ev := range tr.Close() {
					writeEvent(w, flusher, ev)
				}
				outcome = "parse_error"
				break loop
			}
		}
	}

	// Override the reservation with what actually streamed.
	if _, out, ok := tr.Usage(); ok {
		req.OutputTokens = out
	} else {
		// No usage event arrived; fall back to a character estimate of what
		// was streamed.
		req.OutputTokens = tr.TextLen() / 4
	}
	p.postprocess(ctx, req, userToken, start, outcome)
}

// upstreamStreams reports whether the upstream attempt actually used a
// streaming transport.
func upstreamStreams(req *Request) bool {
	// Bedrock invocations are always blocking (see signAWS).
	return req.Service != models.ServiceAWS
}

// postprocess runs once a 2xx response has been delivered or cut short:
// credit usage, emit accounting and metrics. Failed attempts do not reach it.
func (p *Pipeline) postprocess(ctx context.Context, req *Request, userToken string, start time.Time, outcome string) {
	p.pool.IncrementUsage(req.Service, req.Key.Hash, req.Family, int64(req.PromptTokens), int64(req.OutputTokens))
	if p.users != nil && userToken != "" {
		p.users.IncrementTokenCount(ctx, userToken, req.Model, string(req.InDialect), 0, int64(req.OutputTokens))
	}
	if p.metrics != nil {
		p.metrics.RecordRequest(string(req.Service), string(req.Family), outcome, time.Since(start))
		p.metrics.AddTokens(string(req.Family), int64(req.PromptTokens), int64(req.OutputTokens))
	}
	p.logger.Info("request complete",
		"request_id", req.ID,
		"key", req.Key.Hash,
		"outcome", outcome,
		"prompt_tokens", req.PromptTokens,
		"output_tokens", req.OutputTokens,
		"retries", req.RetryCount,
	)
}

// trackKeyRateLimit caches the upstream's advertised rate-limit window on
// the key.
func (p *Pipeline) trackKeyRateLimit(req *Request, h http.Header) {
	remaining := h.Get("x-ratelimit-remaining-requests")
	if remaining == "" {
		remaining = h.Get("x-ratelimit-remaining")
	}
	if remaining == "" {
		return
	}
	if n, err := strconv.Atoi(remaining); err == nil && n <= 0 {
		p.pool.MarkRateLimited(req.Key)
	}
}

// writeEvent writes one SSE event and flushes.
func writeEvent(w io.Writer, flusher http.Flusher, ev dialect.Event) {
	if ev.Name != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Name)
	}
	fmt.Fprintf(w, "data: %s\n\n", ev.Data)
	if flusher != nil {
		flusher.Flush()
	}
}

// writeStreamError emits a typed error event and terminates the stream.
func (p *Pipeline) writeStreamError(w http.ResponseWriter, flusher http.Flusher, req *Request, msg string) {
	writeEvent(w, flusher, dialect.ErrorEvent(req.InDialect, msg, string(ErrUpstreamUnavailable)))
	if req.InDialect == dialect.OpenAI || req.InDialect == dialect.Mistral {
		writeEvent(w, flusher, dialect.Event{Data: "[DONE]"})
	}
}

// respondUpstream surfaces a terminal upstream failure in the client's
// dialect, passing moderation bodies through verbatim.
func (p *Pipeline) respondUpstream(w http.ResponseWriter, req *Request, status int, body []byte, v Verdict) {
	if v.Passthrough {
		payload := attachProxyNote(body, v.Note)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(payload)
		return
	}

	gerr := upstreamError(v, status)
	p.respondError(w, req.InDialect, gerr)
}

// upstreamError maps a verdict to the user-visible taxonomy.
func upstreamError(v Verdict, status int) *Error {
	switch v.Class {
	case ClassKeyRateLimited:
		return newError(ErrUpstreamRateLimited, "upstream rate limit reached (status %d)", status)
	case ClassKeyRevoked:
		return newError(ErrNoKeysAvailable, "no serviceable keys remain for this model")
	case ClassKeyQuota:
		return newError(ErrNoKeysAvailable, "no serviceable keys remain for this model")
	case ClassClientError:
		return newError(ErrBadRequest, "upstream rejected the request (status %d)", status)
	case ClassUpstreamUnavail, ClassRetryable:
		return newError(ErrUpstreamUnavailable, "upstream unavailable (status %d)", status)
	default:
		return newError(ErrInternal, "unexpected upstream response (status %d)", status)
	}
}

// attachProxyNote splices a proxy_note field into a passthrough JSON body.
// Unparseable bodies are wrapped instead.
func attachProxyNote(body []byte, note string) []byte {
	if note == "" {
		return body
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		wrapped, _ := json.Marshal(map[string]string{
			"error":      string(body),
			"proxy_note": note,
		})
		return wrapped
	}
	noteJSON, _ := json.Marshal(note)
	m["proxy_note"] = noteJSON
	out, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return out
}

// respondError writes a taxonomy error in the client's dialect.
func (p *Pipeline) respondError(w http.ResponseWriter, d dialect.Dialect, e *Error) {
	var payload []byte
	switch d {
	case dialect.Anthropic:
		payload, _ = json.Marshal(dialect.AnthropicErrorPayload{
			Type:      "error",
			Error:     dialect.AnthropicErrorBody{Type: string(e.Type), Message: e.Message},
			ProxyNote: e.ProxyNote,
		})
	case dialect.Google:
		payload, _ = json.Marshal(dialect.GoogleErrorPayload{
			Error:     dialect.GoogleErrorBody{Code: e.HTTPStatus(), Message: e.Message, Status: string(e.Type)},
			ProxyNote: e.ProxyNote,
		})
	default:
		payload, _ = json.Marshal(dialect.OpenAIErrorPayload{
			Error:     dialect.OpenAIErrorBody{Message: e.Message, Type: string(e.Type)},
			ProxyNote: e.ProxyNote,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	w.Write(payload)
}
