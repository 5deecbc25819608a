package dialect

import "encoding/json"

// emitter renders neutral stream deltas into one client dialect's events.
// Emitters are stateful: they own first-event synthesis and final-event
// aggregation for their dialect.
type emitter interface {
	render(d streamDelta, st *streamState) []Event
	finish(st *streamState, usage *OpenAIUsage) []Event
	reset()
}

// --- OpenAI emitter ---

// openaiEmitter produces chat.completion.chunk events. Clients of the
// OpenAI dialect expect the stream to open with a delta carrying
// role=assistant and empty content; when the upstream dialect has no such
// event it is synthesized before the first content chunk.
type openaiEmitter struct {
	id, model string

	sentRole   bool
	sentFinish bool
}

func (e *openaiEmitter) reset() {
	e.sentRole = false
	e.sentFinish = false
}

func (e *openaiEmitter) chunk(delta OpenAIDelta, finish *string, usage *OpenAIUsage, st *streamState) Event {
	model := st.model
	if model == "" {
		model = e.model
	}
	c := OpenAIStreamChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Model:   model,
		Choices: []OpenAIStreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		Usage:   usage,
	}
	data, _ := json.Marshal(c)
	return Event{Data: string(data)}
}

func (e *openaiEmitter) render(d streamDelta, st *streamState) []Event {
	var out []Event
	if !e.sentRole && (d.roleStart || d.text != "") {
		empty := ""
		out = append(out, e.chunk(OpenAIDelta{Role: "assistant", Content: &empty}, nil, nil, st))
		e.sentRole = true
		if d.roleStart && d.text == "" && d.finish == "" {
			return out
		}
	}
	if d.text != "" {
		text := d.text
		out = append(out, e.chunk(OpenAIDelta{Content: &text}, nil, nil, st))
	}
	if d.finish != "" && !e.sentFinish {
		finish := d.finish
		out = append(out, e.chunk(OpenAIDelta{}, &finish, nil, st))
		e.sentFinish = true
	}
	return out
}

func (e *openaiEmitter) finish(st *streamState, usage *OpenAIUsage) []Event {
	var out []Event
	if !e.sentFinish {
		finish := "stop"
		out = append(out, e.chunk(OpenAIDelta{}, &finish, usage, st))
		e.sentFinish = true
	}
	out = append(out, Event{Data: "[DONE]"})
	return out
}

// --- Anthropic emitter ---

// anthropicEmitter produces the messages-API event sequence: message_start,
// content_block_start, content_block_delta*, content_block_stop,
// message_delta, message_stop.
type anthropicEmitter struct {
	id, model string

	started    bool
	finishSeen string
}

func (e *anthropicEmitter) reset() {
	e.started = false
	e.finishSeen = ""
}

func (e *anthropicEmitter) event(name string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Name: name, Data: string(data)}
}

func (e *anthropicEmitter) start(st *streamState) []Event {
	model := st.model
	if model == "" {
		model = e.model
	}
	e.started = true
	return []Event{
		e.event("message_start", map[string]any{
			"type": "message_start",
			"message": AnthropicResponse{
				ID:      e.id,
				Type:    "message",
				Role:    "assistant",
				Model:   model,
				Content: []AnthropicContentBlock{},
			},
		}),
		e.event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": AnthropicContentBlock{Type: "text", Text: ""},
		}),
	}
}

func (e *anthropicEmitter) render(d streamDelta, st *streamState) []Event {
	var out []Event
	if !e.started && (d.roleStart || d.text != "") {
		out = append(out, e.start(st)...)
	}
	if d.text != "" {
		out = append(out, e.event("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": AnthropicContentDelta{Type: "text_delta", Text: d.text},
		}))
	}
	if d.finish != "" {
		e.finishSeen = d.finish
	}
	return out
}

func (e *anthropicEmitter) finish(st *streamState, usage *OpenAIUsage) []Event {
	var out []Event
	if !e.started {
		out = append(out, e.start(st)...)
	}
	out = append(out, e.event("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": 0,
	}))

	deltaPayload := map[string]any{
		"type":  "message_delta",
		"delta": AnthropicMessageDelta{StopReason: anthropicStopReasonFor(e.finishSeen)},
	}
	if usage != nil {
		deltaPayload["usage"] = AnthropicUsage{OutputTokens: usage.CompletionTokens}
	}
	out = append(out, e.event("message_delta", deltaPayload))
	out = append(out, e.event("message_stop", map[string]any{"type": "message_stop"}))
	return out
}

// --- Google emitter ---

// googleEmitter produces streamGenerateContent SSE chunks, each a full
// GoogleResponse carrying one candidate delta.
type googleEmitter struct {
	model string

	finishSeen string
}

func (e *googleEmitter) reset() {
	e.finishSeen = ""
}

func (e *googleEmitter) chunk(text, finish string, usage *OpenAIUsage, st *streamState) Event {
	model := st.model
	if model == "" {
		model = e.model
	}
	resp := GoogleResponse{
		Candidates: []GoogleCandidate{{
			Content:      GoogleContent{Role: "model", Parts: []GooglePart{{Text: text}}},
			FinishReason: finish,
		}},
		ModelVersion: model,
	}
	if usage != nil {
		resp.UsageMetadata = &GoogleUsageMetadata{
			PromptTokenCount:     usage.PromptTokens,
			CandidatesTokenCount: usage.CompletionTokens,
			TotalTokenCount:      usage.TotalTokens,
		}
	}
	data, _ := json.Marshal(resp)
	return Event{Data: string(data)}
}

func (e *googleEmitter) render(d streamDelta, st *streamState) []Event {
	if d.finish != "" {
		e.finishSeen = d.finish
	}
	if d.text == "" {
		return nil
	}
	return []Event{e.chunk(d.text, "", nil, st)}
}

func (e *googleEmitter) finish(st *streamState, usage *OpenAIUsage) []Event {
	return []Event{e.chunk("", googleFinishReasonFor(e.finishSeen), usage, st)}
}
