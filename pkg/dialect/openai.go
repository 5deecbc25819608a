package dialect

import "encoding/json"

// OpenAI chat-completion wire types. Mistral's API is wire-compatible with
// these shapes; the Mistral dialect reuses them.

// OpenAIRequest is the OpenAI /v1/chat/completions request body.
type OpenAIRequest struct {
	Model            string          `json:"model"`
	Messages         []OpenAIMessage `json:"messages"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	User             string          `json:"user,omitempty"`
}

// OpenAIMessage is one conversation turn. Content is either a string or an
// array of multimodal parts.
type OpenAIMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// OpenAIContentPart is one element of a multimodal content array.
type OpenAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

// OpenAIImageURL carries an image reference in a multimodal part.
type OpenAIImageURL struct {
	URL string `json:"url"`
}

// OpenAIResponse is the blocking chat-completion response body.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

// OpenAIChoice is one completion alternative.
type OpenAIChoice struct {
	Index        int                 `json:"index"`
	Message      OpenAIChoiceMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

// OpenAIChoiceMessage is the assistant message inside a blocking choice.
type OpenAIChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIUsage is the token accounting block.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIStreamChunk is one chat.completion.chunk SSE payload.
type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *OpenAIUsage         `json:"usage,omitempty"`

	// PromptFilterResults is Azure's content-filter preamble; chunks that
	// carry it and no choices are dropped by the stream transformer.
	PromptFilterResults json.RawMessage `json:"prompt_filter_results,omitempty"`
}

// OpenAIStreamChoice is one choice inside a stream chunk.
type OpenAIStreamChoice struct {
	Index        int         `json:"index"`
	Delta        OpenAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// OpenAIDelta is the incremental message content of a stream chunk.
type OpenAIDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// OpenAIErrorPayload is the error envelope OpenAI-dialect clients expect.
type OpenAIErrorPayload struct {
	Error     OpenAIErrorBody `json:"error"`
	ProxyNote string          `json:"proxy_note,omitempty"`
}

// OpenAIErrorBody is the inner error object.
type OpenAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// OpenAIModelList is the GET /v1/models response shape.
type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// OpenAIModel is one entry of the model list.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
