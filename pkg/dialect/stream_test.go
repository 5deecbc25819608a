package dialect

import (
	"encoding/json"
	"strings"
	"testing"
)

// anthropicFixture is the event sequence of a short Anthropic stream.
var anthropicFixture = strings.Join([]string{
	`event: message_start`,
	`data: {"type":"message_start","message":{"id":"msg_x","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"usage":{"input_tokens":9,"output_tokens":0}}}`,
	``,
	`event: content_block_start`,
	`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	``,
	`event: content_block_delta`,
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
	``,
	`event: content_block_delta`,
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
	``,
	`event: message_delta`,
	`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
	``,
	`event: message_stop`,
	`data: {"type":"message_stop"}`,
	``,
	``,
}, "\n")

func decodeChunk(t *testing.T, ev Event) OpenAIStreamChunk {
	t.Helper()
	var chunk OpenAIStreamChunk
	if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
		t.Fatalf("event %q is not a chunk: %v", ev.Data, err)
	}
	return chunk
}

func TestStream_AnthropicToOpenAI_FirstEventSynthesis(t *testing.T) {
	tr, err := NewStreamTransformer(Anthropic, OpenAI, "req1", "claude-3-5-sonnet-latest")
	if err != nil {
		t.Fatal(err)
	}
	events, err := tr.Push([]byte(anthropicFixture))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Expected: role chunk, "Hel", "lo", finish chunk, [DONE].
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5: %+v", len(events), events)
	}

	first := decodeChunk(t, events[0])
	if first.Choices[0].Delta.Role != "assistant" {
		t.Errorf("first chunk role = %q, want assistant", first.Choices[0].Delta.Role)
	}
	if first.Choices[0].Delta.Content == nil || *first.Choices[0].Delta.Content != "" {
		t.Error("first chunk must carry empty content")
	}
	if first.Object != "chat.completion.chunk" {
		t.Errorf("object = %q", first.Object)
	}

	if c := decodeChunk(t, events[1]); *c.Choices[0].Delta.Content != "Hel" {
		t.Errorf("second chunk = %q, want Hel", *c.Choices[0].Delta.Content)
	}
	if c := decodeChunk(t, events[2]); *c.Choices[0].Delta.Content != "lo" {
		t.Errorf("third chunk = %q, want lo", *c.Choices[0].Delta.Content)
	}

	finishChunk := decodeChunk(t, events[3])
	if finishChunk.Choices[0].FinishReason == nil || *finishChunk.Choices[0].FinishReason != "stop" {
		t.Errorf("finish chunk = %+v", finishChunk.Choices[0])
	}

	if events[4].Data != "[DONE]" {
		t.Errorf("terminator = %q, want [DONE]", events[4].Data)
	}

	in, out, ok := tr.Usage()
	if !ok || in != 9 || out != 2 {
		t.Errorf("usage = (%d, %d, %v), want (9, 2, true)", in, out, ok)
	}
}

func TestStream_SplitBufferBoundaries(t *testing.T) {
	tr, err := NewStreamTransformer(Anthropic, OpenAI, "req1", "claude")
	if err != nil {
		t.Fatal(err)
	}
	var events []Event
	// Feed one byte at a time; the framer must reassemble.
	for i := 0; i < len(anthropicFixture); i++ {
		evs, err := tr.Push([]byte{anthropicFixture[i]})
		if err != nil {
			t.Fatalf("Push at byte %d: %v", i, err)
		}
		events = append(events, evs...)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
}

func TestStream_ExactlyOneTerminator(t *testing.T) {
	tr, _ := NewStreamTransformer(Anthropic, OpenAI, "req1", "claude")
	events, _ := tr.Push([]byte(anthropicFixture))

	terminators := 0
	for _, ev := range events {
		if ev.Data == "[DONE]" {
			terminators++
		}
	}
	// Close after the upstream already terminated must not add another.
	for _, ev := range tr.Close() {
		if ev.Data == "[DONE]" {
			terminators++
		}
	}
	if terminators != 1 {
		t.Errorf("got %d terminators, want exactly 1", terminators)
	}
}

func TestStream_CloseWithoutUpstreamTerminator(t *testing.T) {
	tr, _ := NewStreamTransformer(OpenAI, OpenAI, "req1", "gpt-4o")
	events, err := tr.Push([]byte("data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"\"},\"finish_reason\":null}]}\n\n"))
	if err != nil {
		t.Fatal(err)
	}
	events = append(events, tr.Close()...)

	last := events[len(events)-1]
	if last.Data != "[DONE]" {
		t.Errorf("stream must close with [DONE], got %q", last.Data)
	}
	// The synthesized finish chunk precedes the terminator.
	finish := decodeChunk(t, events[len(events)-2])
	if finish.Choices[0].FinishReason == nil {
		t.Error("expected synthesized finish chunk before [DONE]")
	}
}

func TestStream_AzurePromptFilterDropped(t *testing.T) {
	tr, _ := NewStreamTransformer(OpenAI, OpenAI, "req1", "gpt-4o")
	events, err := tr.Push([]byte(`data: {"id":"","choices":[],"prompt_filter_results":[{"prompt_index":0}]}` + "\n\n"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("prompt_filter_results event must produce no output, got %+v", events)
	}
}

func TestStream_UnmappedEventsIgnored(t *testing.T) {
	tr, _ := NewStreamTransformer(Anthropic, OpenAI, "req1", "claude")
	events, err := tr.Push([]byte("event: ping\ndata: {\"type\":\"ping\"}\n\n"))
	if err != nil {
		t.Fatalf("ping must not error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("ping must produce no output, got %+v", events)
	}
}

func TestStream_ParseErrorSurfaces(t *testing.T) {
	tr, _ := NewStreamTransformer(Anthropic, OpenAI, "req1", "claude")
	_, err := tr.Push([]byte("event: content_block_delta\ndata: {not json\n\n"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if tr.LastEventRaw() == nil {
		t.Error("the offending event must be retained for logging")
	}
}

func TestStream_OpenAIToAnthropic(t *testing.T) {
	tr, err := NewStreamTransformer(OpenAI, Anthropic, "req1", "claude-3-5-sonnet-20241022")
	if err != nil {
		t.Fatal(err)
	}
	fixture := strings.Join([]string{
		`data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
		``,
		`data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`,
		``,
		`data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
		``,
	}, "\n")
	events, err := tr.Push([]byte(fixture))
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("event sequence = %v, want %v", names, want)
	}
}

func TestStream_RawSideChannel(t *testing.T) {
	tr, _ := NewStreamTransformer(Anthropic, OpenAI, "req1", "claude")
	var raws [][]byte
	tr.OnRaw = func(raw []byte) { raws = append(raws, raw) }
	tr.Push([]byte(anthropicFixture))
	if len(raws) != 6 {
		t.Errorf("raw side channel saw %d events, want 6", len(raws))
	}
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent(OpenAI, "boom", "upstream_error")
	var payload OpenAIErrorPayload
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Error.Message != "boom" || payload.Error.Type != "upstream_error" {
		t.Errorf("payload = %+v", payload)
	}

	aev := ErrorEvent(Anthropic, "boom", "api_error")
	if aev.Name != "error" {
		t.Errorf("anthropic error event name = %q", aev.Name)
	}
}
