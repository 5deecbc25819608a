package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/charon/pkg/dialect"
	"mercator-hq/charon/pkg/keypool"
	"mercator-hq/charon/pkg/models"
	"mercator-hq/charon/pkg/queue"
	"mercator-hq/charon/pkg/userstore"
)

// newTestPipeline wires a pool, a running queue and a pipeline pointed at
// the given upstream base URL for the anthropic service.
func newTestPipeline(t *testing.T, upstreamURL string, secrets ...string) (*Pipeline, *keypool.Pool, *userstore.MemoryStore) {
	t.Helper()
	pool := keypool.New(keypool.Config{
		ReuseDelay:       time.Millisecond,
		RateLimitLockout: 100 * time.Millisecond,
	})
	for _, s := range secrets {
		pool.Add(keypool.Key{Service: models.ServiceAnthropic, Secret: s})
	}
	q := queue.New(pool, queue.Config{TickInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Start(ctx)

	users := userstore.NewMemoryStore()
	p := New(pool, q, users, nil, Config{
		BaseURLs: map[models.Service]string{models.ServiceAnthropic: upstreamURL},
	})
	seq := atomic.Int64{}
	p.newID = func() string { return fmt.Sprintf("test%d", seq.Add(1)) }
	return p, pool, users
}

func execute(p *Pipeline, body string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/anthropic/v1/chat/completions", strings.NewReader(body))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	p.Execute(w, r, Inbound{
		Dialect: dialect.OpenAI,
		Service: models.ServiceAnthropic,
		Body:    []byte(body),
	})
	return w
}

const openaiToClaudeBody = `{
	"model": "claude-3-5-sonnet-latest",
	"messages": [{"role": "user", "content": "hi"}],
	"max_tokens": 64,
	"stream": false
}`

// anthropicOK is a canned Anthropic blocking success.
const anthropicOK = `{
	"id": "msg_up",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-5-sonnet-20241022",
	"content": [{"type": "text", "text": "hello back"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 7, "output_tokens": 3}
}`

func TestExecute_OpenAIDialectToAnthropic(t *testing.T) {
	var gotPath string
	var gotBody dialect.AnthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("x-api-key") == "" {
			t.Error("anthropic requests must authenticate with x-api-key")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic requests must carry anthropic-version")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, anthropicOK)
	}))
	defer server.Close()

	p, _, _ := newTestPipeline(t, server.URL, "sk-ant-a")
	w := execute(p, openaiToClaudeBody, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if gotPath != "/v1/messages" {
		t.Errorf("upstream path = %q, want /v1/messages", gotPath)
	}
	if gotBody.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("upstream model = %q, want canonical dated id", gotBody.Model)
	}
	if gotBody.MaxTokens != 64 {
		t.Errorf("upstream max_tokens = %d, want 64", gotBody.MaxTokens)
	}

	var resp dialect.OpenAIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("client response not OpenAI dialect: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q", resp.Object)
	}
	if resp.Choices[0].Message.Role != "assistant" {
		t.Errorf("role = %q, want assistant", resp.Choices[0].Message.Role)
	}
	if resp.Choices[0].Message.Content != "hello back" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
}

func TestExecute_RateLimitReenqueuesOnSecondKey(t *testing.T) {
	var calls atomic.Int64
	var keysSeen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keysSeen = append(keysSeen, r.Header.Get("x-api-key"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"Too many requests"}}`)
			return
		}
		fmt.Fprint(w, anthropicOK)
	}))
	defer server.Close()

	p, pool, _ := newTestPipeline(t, server.URL, "sk-ant-a", "sk-ant-b")
	w := execute(p, openaiToClaudeBody, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream calls = %d, want 2", calls.Load())
	}
	if keysSeen[0] == keysSeen[1] {
		t.Error("retry must use the other key")
	}

	// The 429'd key is locked out.
	limited := 0
	for _, k := range pool.List(models.ServiceAnthropic) {
		if k.Secret == keysSeen[0] && !k.RateLimitedAt.IsZero() {
			limited++
			if k.RateLimitedUntil.Before(k.RateLimitedAt) {
				t.Error("rateLimitedUntil must be >= rateLimitedAt")
			}
		}
	}
	if limited != 1 {
		t.Error("first key should be marked rate limited")
	}
}

func TestExecute_ContextTooLarge(t *testing.T) {
	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer server.Close()

	p, _, _ := newTestPipeline(t, server.URL, "sk-ant-a")
	huge := strings.Repeat("lorem ipsum dolor sit amet ", 40_000)
	body := fmt.Sprintf(`{"model":"claude-3-5-sonnet-latest","messages":[{"role":"user","content":%q}],"max_tokens":100000}`, huge)
	w := execute(p, body, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var payload dialect.OpenAIErrorPayload
	json.Unmarshal(w.Body.Bytes(), &payload)
	if payload.Error.Type != string(ErrContextTooLarge) {
		t.Errorf("error type = %q, want %s", payload.Error.Type, ErrContextTooLarge)
	}
	if called.Load() {
		t.Error("no upstream call may happen for oversized prompts")
	}
}

func TestExecute_BadRequest(t *testing.T) {
	p, _, _ := newTestPipeline(t, "http://unused.invalid", "sk-ant-a")
	w := execute(p, `{"model":"claude-3-5-sonnet-latest"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestExecute_RetryCapSurfacesLastError(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error"}}`)
	}))
	defer server.Close()

	pool := keypool.New(keypool.Config{
		ReuseDelay:       time.Millisecond,
		RateLimitLockout: time.Millisecond,
	})
	for i := 0; i < 5; i++ {
		pool.Add(keypool.Key{Service: models.ServiceAnthropic, Secret: fmt.Sprintf("sk-ant-%d", i)})
	}
	q := queue.New(pool, queue.Config{TickInterval: 2 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	p := New(pool, q, nil, nil, Config{
		MaxRetries: 2,
		BaseURLs:   map[models.Service]string{models.ServiceAnthropic: server.URL},
	})

	w := execute(p, openaiToClaudeBody, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	// Initial attempt plus MaxRetries re-enqueues.
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream attempts = %d, want 3", got)
	}
}

func TestExecute_ModerationPassthroughRefunds(t *testing.T) {
	moderation := `{"error":{"code":"content_filter","message":"Your request was blocked"}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, moderation)
	}))
	defer server.Close()

	p, _, users := newTestPipeline(t, server.URL, "sk-ant-a")
	w := execute(p, openaiToClaudeBody, map[string]string{"Authorization": "Bearer user-tok"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 passthrough", w.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if _, ok := payload["proxy_note"]; !ok {
		t.Error("passthrough body must carry proxy_note")
	}
	if _, ok := payload["error"]; !ok {
		t.Error("upstream error body must pass through")
	}

	// The attempt's input-token charge was refunded.
	_, input, _ := users.Usage("user-tok")
	if input != 0 {
		t.Errorf("user input tokens after refund = %d, want 0", input)
	}
}

func TestExecute_RevokedKeyDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	p, pool, _ := newTestPipeline(t, server.URL, "sk-ant-a")
	execute(p, openaiToClaudeBody, nil)

	k := pool.List(models.ServiceAnthropic)[0]
	if !k.IsDisabled || !k.IsRevoked {
		t.Errorf("key after 401: disabled=%v revoked=%v, want both true", k.IsDisabled, k.IsRevoked)
	}
}

func TestExecute_StreamingAnthropicToOpenAI(t *testing.T) {
	stream := strings.Join([]string{
		"event: message_start",
		`data: {"type":"message_start","message":{"id":"msg_x","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"usage":{"input_tokens":7,"output_tokens":0}}}`,
		"",
		"event: content_block_delta",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		"",
		"event: message_delta",
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`,
		"",
		"event: message_stop",
		`data: {"type":"message_stop"}`,
		"",
		"",
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req dialect.AnthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("upstream request must have stream=true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, stream)
	}))
	defer server.Close()

	p, pool, _ := newTestPipeline(t, server.URL, "sk-ant-a")
	body := `{"model":"claude-3-5-sonnet-latest","messages":[{"role":"user","content":"hi"}],"max_tokens":64,"stream":true}`
	w := execute(p, body, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}
	out := w.Body.String()
	if !strings.Contains(out, `"role":"assistant"`) {
		t.Error("stream must open with the synthesized assistant role chunk")
	}
	if !strings.Contains(out, `"content":"Hello"`) {
		t.Error("stream must carry the content delta")
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "data: [DONE]") {
		t.Errorf("stream must terminate with [DONE], got tail %q", out[len(out)-40:])
	}

	// Streamed usage was credited to the key.
	k := pool.List(models.ServiceAnthropic)[0]
	u := k.TokenUsage[models.FamilyClaude]
	if u == nil || u.Output != 1 {
		t.Errorf("key output usage = %+v, want 1", u)
	}
}

func TestHeaderToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer tok-123")
	if got := headerToken(r); got != "tok-123" {
		t.Errorf("headerToken = %q", got)
	}
	r2 := httptest.NewRequest(http.MethodPost, "/", nil)
	r2.Header.Set("x-api-key", "tok-456")
	if got := headerToken(r2); got != "tok-456" {
		t.Errorf("headerToken = %q", got)
	}
}
