package dialect

import "encoding/json"

// Anthropic messages-API wire types. AWS Bedrock and GCP Vertex use the same
// body shapes with provider-specific envelopes handled by the signers.

// AnthropicRequest is the /v1/messages request body.
type AnthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`

	// AnthropicVersion is required by GCP Vertex in place of the version
	// header; empty elsewhere.
	AnthropicVersion string `json:"anthropic_version,omitempty"`
}

// AnthropicMessage is one conversation turn. Content is either a string or
// an array of content blocks.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// AnthropicContentBlock is one element of a structured content array.
type AnthropicContentBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *AnthropicImageSource `json:"source,omitempty"`
}

// AnthropicImageSource carries image bytes in a content block.
type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// AnthropicResponse is the blocking messages response.
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Content      []AnthropicContentBlock `json:"content"`
	Model        string                  `json:"model"`
	StopReason   string                  `json:"stop_reason"`
	StopSequence string                  `json:"stop_sequence,omitempty"`
	Usage        AnthropicUsage          `json:"usage"`
}

// AnthropicUsage is the token accounting block.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicStreamEvent is one SSE event of the streaming messages API.
type AnthropicStreamEvent struct {
	Type string `json:"type"`

	// message_start
	Message *AnthropicResponse `json:"message,omitempty"`

	// content_block_start / content_block_delta
	Index        int                    `json:"index,omitempty"`
	ContentBlock *AnthropicContentBlock `json:"content_block,omitempty"`
	Delta        json.RawMessage        `json:"delta,omitempty"`

	// message_delta
	Usage *AnthropicUsage `json:"usage,omitempty"`

	// error events
	Error *AnthropicErrorBody `json:"error,omitempty"`
}

// AnthropicContentDelta is the delta payload of content_block_delta events.
type AnthropicContentDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicMessageDelta is the delta payload of message_delta events.
type AnthropicMessageDelta struct {
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// AnthropicErrorPayload is the error envelope Anthropic-dialect clients
// expect.
type AnthropicErrorPayload struct {
	Type      string             `json:"type"`
	Error     AnthropicErrorBody `json:"error"`
	ProxyNote string             `json:"proxy_note,omitempty"`
}

// AnthropicErrorBody is the inner error object.
type AnthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
