package dialect

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTransformRequest_OpenAIToAnthropic(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet-latest",
		"messages": [
			{"role": "system", "content": "You are terse."},
			{"role": "user", "content": "hi"}
		],
		"max_tokens": 64,
		"stream": false
	}`)

	out, err := TransformRequest(OpenAI, Anthropic, body, RequestMeta{
		RequestID: "req1",
		Model:     "claude-3-5-sonnet-20241022",
	})
	if err != nil {
		t.Fatalf("TransformRequest: %v", err)
	}

	var req AnthropicRequest
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("output not valid anthropic request: %v", err)
	}
	if req.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("model = %q", req.Model)
	}
	if req.System != "You are terse." {
		t.Errorf("system = %q", req.System)
	}
	if req.MaxTokens != 64 {
		t.Errorf("max_tokens = %d", req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	var content string
	if err := json.Unmarshal(req.Messages[0].Content, &content); err != nil || content != "hi" {
		t.Errorf("content = %q (%v)", content, err)
	}
}

func TestTransformRequest_AnthropicMaxTokensRequired(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"x"}]}`)
	out, err := TransformRequest(OpenAI, Anthropic, body, RequestMeta{Model: "claude-3-5-sonnet-20241022"})
	if err != nil {
		t.Fatalf("TransformRequest: %v", err)
	}
	var req AnthropicRequest
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatal(err)
	}
	if req.MaxTokens == 0 {
		t.Error("anthropic requests must always carry max_tokens")
	}
}

func TestTransformRequest_RoundTripPreservesSemantics(t *testing.T) {
	temp := 0.7
	orig := OpenAIRequest{
		Model:       "claude-3-5-sonnet-20241022",
		MaxTokens:   128,
		Temperature: &temp,
		Stream:      true,
		Messages: []OpenAIMessage{
			{Role: "user", Content: jsonString("first")},
			{Role: "assistant", Content: jsonString("second")},
			{Role: "user", Content: jsonString("third")},
		},
	}
	body, _ := json.Marshal(orig)
	meta := RequestMeta{Model: orig.Model, Stream: true}

	mid, err := TransformRequest(OpenAI, Anthropic, body, meta)
	if err != nil {
		t.Fatalf("OpenAI→Anthropic: %v", err)
	}
	back, err := TransformRequest(Anthropic, OpenAI, mid, meta)
	if err != nil {
		t.Fatalf("Anthropic→OpenAI: %v", err)
	}

	var got OpenAIRequest
	if err := json.Unmarshal(back, &got); err != nil {
		t.Fatal(err)
	}
	if got.Model != orig.Model {
		t.Errorf("model = %q, want %q", got.Model, orig.Model)
	}
	if got.MaxTokens != orig.MaxTokens {
		t.Errorf("max_tokens = %d, want %d", got.MaxTokens, orig.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != temp {
		t.Errorf("temperature = %v, want %v", got.Temperature, temp)
	}
	if !got.Stream {
		t.Error("stream flag lost")
	}
	if len(got.Messages) != len(orig.Messages) {
		t.Fatalf("got %d messages, want %d", len(got.Messages), len(orig.Messages))
	}
	for i, msg := range got.Messages {
		var gotText, wantText string
		json.Unmarshal(msg.Content, &gotText)
		json.Unmarshal(orig.Messages[i].Content, &wantText)
		if msg.Role != orig.Messages[i].Role || gotText != wantText {
			t.Errorf("messages[%d] = (%s, %q), want (%s, %q)", i, msg.Role, gotText, orig.Messages[i].Role, wantText)
		}
	}
}

func TestTransformRequest_OpenAIToGoogle(t *testing.T) {
	body := []byte(`{
		"model": "gemini-1.5-pro",
		"messages": [
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": "hi there"},
			{"role": "user", "content": "bye"}
		],
		"max_tokens": 32
	}`)
	out, err := TransformRequest(OpenAI, Google, body, RequestMeta{Model: "gemini-1.5-pro"})
	if err != nil {
		t.Fatalf("TransformRequest: %v", err)
	}
	var req GoogleRequest
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatal(err)
	}
	if len(req.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(req.Contents))
	}
	if req.Contents[1].Role != "model" {
		t.Errorf("assistant should map to role=model, got %q", req.Contents[1].Role)
	}
	if req.GenerationConfig == nil || req.GenerationConfig.MaxOutputTokens != 32 {
		t.Errorf("generationConfig = %+v", req.GenerationConfig)
	}
}

func TestTransformRequest_InvalidBody(t *testing.T) {
	_, err := TransformRequest(OpenAI, Anthropic, []byte(`{"model":"x"}`), RequestMeta{})
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestTransformRequest_Deterministic(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"x"}],"max_tokens":5}`)
	meta := RequestMeta{RequestID: "fixed", Model: "gpt-4o"}
	a, err := TransformRequest(OpenAI, Google, body, meta)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := TransformRequest(OpenAI, Google, body, meta)
	if string(a) != string(b) {
		t.Error("transform is not deterministic")
	}
}

func TestTransformResponse_AnthropicToOpenAI(t *testing.T) {
	body := []byte(`{
		"id": "msg_abc",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"content": [{"type": "text", "text": "Hello!"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 3}
	}`)
	out, err := TransformResponse(Anthropic, OpenAI, body, RequestMeta{
		RequestID: "req1",
		Model:     "claude-3-5-sonnet-latest",
	})
	if err != nil {
		t.Fatalf("TransformResponse: %v", err)
	}
	var resp OpenAIResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "chatcmpl-req1" {
		t.Errorf("id = %q, want deterministic chatcmpl-req1", resp.ID)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d", len(resp.Choices))
	}
	if resp.Choices[0].Message.Role != "assistant" {
		t.Errorf("role = %q", resp.Choices[0].Message.Role)
	}
	if resp.Choices[0].Message.Content != "Hello!" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("total_tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestInspectRequest(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "sys"},
			{"role": "user", "content": [
				{"type": "text", "text": "look at this"},
				{"type": "image_url", "image_url": {"url": "https://example.com/a.png"}}
			]}
		],
		"max_tokens": 99,
		"stream": true
	}`)
	stats, err := InspectRequest(OpenAI, body)
	if err != nil {
		t.Fatalf("InspectRequest: %v", err)
	}
	if stats.Images != 1 {
		t.Errorf("images = %d, want 1", stats.Images)
	}
	if stats.MaxTokens != 99 || !stats.Stream || stats.Model != "gpt-4o" {
		t.Errorf("stats = %+v", stats)
	}
}
