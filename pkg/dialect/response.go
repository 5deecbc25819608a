package dialect

import (
	"encoding/json"
	"fmt"
	"strings"
)

// finish reason normalization: the canonical set is stop, length,
// content_filter.

func normalizeAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func normalizeGoogleFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

func anthropicStopReasonFor(finish string) string {
	switch finish {
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func googleFinishReasonFor(finish string) string {
	switch finish {
	case "length":
		return "MAX_TOKENS"
	case "content_filter":
		return "SAFETY"
	default:
		return "STOP"
	}
}

// --- response decoders ---

func decodeOpenAIResponse(body []byte) (*canonicalResponse, error) {
	var resp OpenAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse openai response: %w", err)
	}
	c := &canonicalResponse{
		ID:               resp.ID,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		c.Text = resp.Choices[0].Message.Content
		c.FinishReason = resp.Choices[0].FinishReason
	}
	return c, nil
}

func decodeAnthropicResponse(body []byte) (*canonicalResponse, error) {
	var resp AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse anthropic response: %w", err)
	}
	var texts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	return &canonicalResponse{
		ID:               resp.ID,
		Model:            resp.Model,
		Text:             strings.Join(texts, ""),
		FinishReason:     normalizeAnthropicStopReason(resp.StopReason),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}

func decodeGoogleResponse(body []byte) (*canonicalResponse, error) {
	var resp GoogleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse google response: %w", err)
	}
	c := &canonicalResponse{Model: resp.ModelVersion}
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		var texts []string
		for _, p := range cand.Content.Parts {
			texts = append(texts, p.Text)
		}
		c.Text = strings.Join(texts, "")
		c.FinishReason = normalizeGoogleFinishReason(cand.FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		c.PromptTokens = u.PromptTokenCount
		c.CompletionTokens = u.CandidatesTokenCount
	}
	return c, nil
}

// --- response encoders ---

func encodeOpenAIResponse(c *canonicalResponse, meta RequestMeta) ([]byte, error) {
	finish := c.FinishReason
	if finish == "" {
		finish = "stop"
	}
	resp := OpenAIResponse{
		ID:     "chatcmpl-" + meta.RequestID,
		Object: "chat.completion",
		Model:  meta.Model,
		Choices: []OpenAIChoice{{
			Index:        0,
			Message:      OpenAIChoiceMessage{Role: "assistant", Content: c.Text},
			FinishReason: finish,
		}},
		Usage: OpenAIUsage{
			PromptTokens:     c.PromptTokens,
			CompletionTokens: c.CompletionTokens,
			TotalTokens:      c.PromptTokens + c.CompletionTokens,
		},
	}
	return json.Marshal(resp)
}

func encodeAnthropicResponse(c *canonicalResponse, meta RequestMeta) ([]byte, error) {
	resp := AnthropicResponse{
		ID:         "msg_" + meta.RequestID,
		Type:       "message",
		Role:       "assistant",
		Model:      meta.Model,
		Content:    []AnthropicContentBlock{{Type: "text", Text: c.Text}},
		StopReason: anthropicStopReasonFor(c.FinishReason),
		Usage: AnthropicUsage{
			InputTokens:  c.PromptTokens,
			OutputTokens: c.CompletionTokens,
		},
	}
	return json.Marshal(resp)
}

func encodeGoogleResponse(c *canonicalResponse, meta RequestMeta) ([]byte, error) {
	resp := GoogleResponse{
		Candidates: []GoogleCandidate{{
			Content:      GoogleContent{Role: "model", Parts: []GooglePart{{Text: c.Text}}},
			FinishReason: googleFinishReasonFor(c.FinishReason),
		}},
		UsageMetadata: &GoogleUsageMetadata{
			PromptTokenCount:     c.PromptTokens,
			CandidatesTokenCount: c.CompletionTokens,
			TotalTokenCount:      c.PromptTokens + c.CompletionTokens,
		},
		ModelVersion: meta.Model,
	}
	return json.Marshal(resp)
}

type responseDecoder func(body []byte) (*canonicalResponse, error)
type responseEncoder func(c *canonicalResponse, meta RequestMeta) ([]byte, error)

var responseDecoders = map[Dialect]responseDecoder{
	OpenAI:    decodeOpenAIResponse,
	Anthropic: decodeAnthropicResponse,
	Google:    decodeGoogleResponse,
	Mistral:   decodeOpenAIResponse,
}

var responseEncoders = map[Dialect]responseEncoder{
	OpenAI:    encodeOpenAIResponse,
	Anthropic: encodeAnthropicResponse,
	Google:    encodeGoogleResponse,
	Mistral:   encodeOpenAIResponse,
}

// TransformResponse rewrites a blocking upstream response body from the
// upstream dialect into the dialect the client spoke. Synthesized ids derive
// from meta.RequestID.
func TransformResponse(from, to Dialect, body []byte, meta RequestMeta) ([]byte, error) {
	decode, ok := responseDecoders[from]
	if !ok {
		return nil, fmt.Errorf("unknown upstream dialect %q", from)
	}
	encode, ok := responseEncoders[to]
	if !ok {
		return nil, fmt.Errorf("unknown client dialect %q", to)
	}
	c, err := decode(body)
	if err != nil {
		return nil, err
	}
	return encode(c, meta)
}

// CompletionTokens extracts the completion token count and text from a
// blocking upstream response, for the postprocess recount.
func CompletionTokens(from Dialect, body []byte) (tokens int, text string, err error) {
	decode, ok := responseDecoders[from]
	if !ok {
		return 0, "", fmt.Errorf("unknown upstream dialect %q", from)
	}
	c, err := decode(body)
	if err != nil {
		return 0, "", err
	}
	return c.CompletionTokens, c.Text, nil
}
