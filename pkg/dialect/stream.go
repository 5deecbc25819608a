package dialect

import (
	"encoding/json"
	"fmt"

	"mercator-hq/charon/pkg/dialect/sse"
)

// Event is one outbound SSE event in the client dialect's wire shape. Data
// holds the payload without the "data: " prefix; Name is the event: field,
// empty for data-only streams.
type Event struct {
	Name string
	Data string
}

// streamDelta is the neutral form upstream events are parsed into before the
// client-dialect emitter renders them.
type streamDelta struct {
	roleStart    bool
	text         string
	finish       string
	inputTokens  int
	outputTokens int
	hasUsage     bool
	terminal     bool
}

// streamState accumulates what the upstream has revealed so far.
type streamState struct {
	id    string
	model string
}

// StreamTransformer rewrites an upstream SSE byte stream into the client
// dialect's event stream. It is instantiated per request and is not safe for
// concurrent use.
//
// OnRaw, when set, receives the original bytes of every upstream event
// before transformation; the pipeline points it at the prompt logger.
type StreamTransformer struct {
	from, to Dialect
	framer   sse.Framer
	state    streamState
	emit     emitter

	OnRaw func(raw []byte)

	msgCount int
	closed   bool
	lastRaw  []byte

	usageIn, usageOut int
	hasUsage          bool
	textLen           int
}

// NewStreamTransformer builds a transformer for one request. fallbackID and
// fallbackModel seed synthesized identifiers when the upstream never names
// its own.
func NewStreamTransformer(from, to Dialect, fallbackID, fallbackModel string) (*StreamTransformer, error) {
	t := &StreamTransformer{
		from:  from,
		to:    to,
		state: streamState{id: fallbackID, model: fallbackModel},
	}
	switch to {
	case OpenAI, Mistral:
		t.emit = &openaiEmitter{id: "chatcmpl-" + fallbackID, model: fallbackModel}
	case Anthropic:
		t.emit = &anthropicEmitter{id: "msg_" + fallbackID, model: fallbackModel}
	case Google:
		t.emit = &googleEmitter{model: fallbackModel}
	default:
		return nil, fmt.Errorf("unknown client dialect %q", to)
	}
	switch from {
	case OpenAI, Mistral, Anthropic, Google:
	default:
		return nil, fmt.Errorf("unknown upstream dialect %q", from)
	}
	return t, nil
}

// Reset clears all parser and emitter state so the transformer can be reused
// after a re-enqueue.
func (t *StreamTransformer) Reset() {
	t.framer.Reset()
	t.msgCount = 0
	t.closed = false
	t.lastRaw = nil
	t.usageIn, t.usageOut, t.hasUsage = 0, 0, false
	t.textLen = 0
	t.emit.reset()
}

// Push feeds raw upstream bytes in and returns the client-dialect events
// they complete. A parse error poisons the stream: the caller should emit an
// error event (see ErrorEvent) and close.
func (t *StreamTransformer) Push(p []byte) ([]Event, error) {
	if t.closed {
		return nil, nil
	}
	var out []Event
	for _, raw := range t.framer.Push(p) {
		t.lastRaw = raw.Raw
		if t.OnRaw != nil {
			t.OnRaw(raw.Raw)
		}
		deltas, err := t.parseEvent(raw)
		if err != nil {
			return out, err
		}
		for _, d := range deltas {
			if d.hasUsage {
				t.hasUsage = true
				if d.inputTokens > 0 {
					t.usageIn = d.inputTokens
				}
				if d.outputTokens > 0 {
					t.usageOut = d.outputTokens
				}
			}
			t.textLen += len(d.text)
			if d.terminal {
				out = append(out, t.closeEvents()...)
				return out, nil
			}
			out = append(out, t.emit.render(d, &t.state)...)
			t.msgCount++
		}
	}
	return out, nil
}

// Close terminates the stream, emitting any final aggregated events. It is
// idempotent: every stream produces exactly one terminator.
func (t *StreamTransformer) Close() []Event {
	return t.closeEvents()
}

func (t *StreamTransformer) closeEvents() []Event {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.emit.finish(&t.state, t.usage())
}

func (t *StreamTransformer) usage() *OpenAIUsage {
	if !t.hasUsage {
		return nil
	}
	return &OpenAIUsage{
		PromptTokens:     t.usageIn,
		CompletionTokens: t.usageOut,
		TotalTokens:      t.usageIn + t.usageOut,
	}
}

// Usage reports upstream-declared token usage, when any event carried it.
func (t *StreamTransformer) Usage() (input, output int, ok bool) {
	return t.usageIn, t.usageOut, t.hasUsage
}

// TextLen is the total content length streamed, in bytes, for the fallback
// token estimate when the upstream reported no usage.
func (t *StreamTransformer) TextLen() int {
	return t.textLen
}

// LastEventRaw returns the original bytes of the most recent upstream event,
// attached to parse-error logs.
func (t *StreamTransformer) LastEventRaw() []byte {
	return t.lastRaw
}

// parseEvent dispatches on the upstream dialect.
func (t *StreamTransformer) parseEvent(raw sse.RawEvent) ([]streamDelta, error) {
	switch t.from {
	case OpenAI, Mistral:
		return parseOpenAIEvent(raw, &t.state)
	case Anthropic:
		return parseAnthropicEvent(raw, &t.state)
	case Google:
		return parseGoogleEvent(raw, &t.state)
	}
	return nil, nil
}

// --- upstream parsers ---

func parseOpenAIEvent(raw sse.RawEvent, st *streamState) ([]streamDelta, error) {
	if raw.IsDone() {
		return []streamDelta{{terminal: true}}, nil
	}
	if raw.Data == "" {
		return nil, nil
	}
	var chunk OpenAIStreamChunk
	if err := json.Unmarshal([]byte(raw.Data), &chunk); err != nil {
		return nil, fmt.Errorf("malformed openai stream chunk: %w", err)
	}
	// Azure prefixes streams with a prompt_filter_results event carrying no
	// choices; it has no client-side counterpart.
	if len(chunk.Choices) == 0 && chunk.PromptFilterResults != nil {
		return nil, nil
	}
	if chunk.ID != "" {
		st.id = chunk.ID
	}
	if chunk.Model != "" {
		st.model = chunk.Model
	}
	var deltas []streamDelta
	if chunk.Usage != nil {
		deltas = append(deltas, streamDelta{
			hasUsage:     true,
			inputTokens:  chunk.Usage.PromptTokens,
			outputTokens: chunk.Usage.CompletionTokens,
		})
	}
	for _, choice := range chunk.Choices {
		d := streamDelta{}
		if choice.Delta.Role != "" {
			d.roleStart = true
		}
		if choice.Delta.Content != nil {
			d.text = *choice.Delta.Content
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			d.finish = *choice.FinishReason
		}
		if d.roleStart || d.text != "" || d.finish != "" {
			deltas = append(deltas, d)
		}
	}
	return deltas, nil
}

func parseAnthropicEvent(raw sse.RawEvent, st *streamState) ([]streamDelta, error) {
	if raw.Data == "" {
		return nil, nil
	}
	var ev AnthropicStreamEvent
	if err := json.Unmarshal([]byte(raw.Data), &ev); err != nil {
		return nil, fmt.Errorf("malformed anthropic stream event: %w", err)
	}
	evType := ev.Type
	if evType == "" {
		evType = raw.Name
	}
	switch evType {
	case "message_start":
		d := streamDelta{roleStart: true}
		if ev.Message != nil {
			if ev.Message.ID != "" {
				st.id = ev.Message.ID
			}
			if ev.Message.Model != "" {
				st.model = ev.Message.Model
			}
			if ev.Message.Usage.InputTokens > 0 {
				d.hasUsage = true
				d.inputTokens = ev.Message.Usage.InputTokens
			}
		}
		return []streamDelta{d}, nil
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Text != "" {
			return []streamDelta{{text: ev.ContentBlock.Text}}, nil
		}
		return nil, nil
	case "content_block_delta":
		var delta AnthropicContentDelta
		if err := json.Unmarshal(ev.Delta, &delta); err != nil {
			return nil, fmt.Errorf("malformed content_block_delta: %w", err)
		}
		if delta.Text == "" {
			return nil, nil
		}
		return []streamDelta{{text: delta.Text}}, nil
	case "message_delta":
		var delta AnthropicMessageDelta
		if len(ev.Delta) > 0 {
			if err := json.Unmarshal(ev.Delta, &delta); err != nil {
				return nil, fmt.Errorf("malformed message_delta: %w", err)
			}
		}
		d := streamDelta{finish: normalizeAnthropicStopReason(delta.StopReason)}
		if ev.Usage != nil {
			d.hasUsage = true
			d.outputTokens = ev.Usage.OutputTokens
		}
		return []streamDelta{d}, nil
	case "message_stop":
		return []streamDelta{{terminal: true}}, nil
	case "error":
		msg := "upstream stream error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		return nil, fmt.Errorf("%s", msg)
	default:
		// ping and future event types produce no output.
		return nil, nil
	}
}

func parseGoogleEvent(raw sse.RawEvent, st *streamState) ([]streamDelta, error) {
	if raw.Data == "" || raw.IsDone() {
		if raw.IsDone() {
			return []streamDelta{{terminal: true}}, nil
		}
		return nil, nil
	}
	var chunk GoogleResponse
	if err := json.Unmarshal([]byte(raw.Data), &chunk); err != nil {
		return nil, fmt.Errorf("malformed google stream chunk: %w", err)
	}
	if chunk.ModelVersion != "" {
		st.model = chunk.ModelVersion
	}
	var deltas []streamDelta
	if u := chunk.UsageMetadata; u != nil {
		deltas = append(deltas, streamDelta{
			hasUsage:     true,
			inputTokens:  u.PromptTokenCount,
			outputTokens: u.CandidatesTokenCount,
		})
	}
	for _, cand := range chunk.Candidates {
		d := streamDelta{}
		for _, p := range cand.Content.Parts {
			d.text += p.Text
		}
		if cand.FinishReason != "" {
			d.finish = normalizeGoogleFinishReason(cand.FinishReason)
		}
		if d.text != "" || d.finish != "" {
			deltas = append(deltas, d)
		}
	}
	return deltas, nil
}

// ErrorEvent renders an error in the client dialect's stream shape, for
// failures after response headers were already sent.
func ErrorEvent(to Dialect, message, errType string) Event {
	switch to {
	case Anthropic:
		payload, _ := json.Marshal(AnthropicErrorPayload{
			Type:  "error",
			Error: AnthropicErrorBody{Type: errType, Message: message},
		})
		return Event{Name: "error", Data: string(payload)}
	case Google:
		payload, _ := json.Marshal(GoogleErrorPayload{
			Error: GoogleErrorBody{Code: 500, Message: message, Status: errType},
		})
		return Event{Data: string(payload)}
	default:
		payload, _ := json.Marshal(OpenAIErrorPayload{
			Error: OpenAIErrorBody{Message: message, Type: errType},
		})
		return Event{Data: string(payload)}
	}
}
