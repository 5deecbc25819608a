package dialect

import (
	"encoding/json"
	"fmt"
	"strings"
)

// canonicalRequest is the internal normalized request every transform pair
// routes through. It carries only the semantic fields shared across dialects;
// dialect-specific extras are reconstructed by the encoders.
type canonicalRequest struct {
	Model       string
	System      string
	Messages    []canonicalMessage
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stream      bool
	Stop        []string
}

// canonicalMessage is one normalized conversation turn.
type canonicalMessage struct {
	Role   string // "user" or "assistant"
	Text   string
	Images int // multimodal parts flattened to a count for admission
}

// canonicalResponse is the normalized blocking response.
type canonicalResponse struct {
	ID               string
	Model            string
	Text             string
	FinishReason     string // normalized: stop, length, content_filter
	PromptTokens     int
	CompletionTokens int
}

// --- request decoders ---

func decodeOpenAIRequest(body []byte) (*canonicalRequest, error) {
	var req OpenAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &SchemaError{Dialect: OpenAI, Message: err.Error()}
	}
	if len(req.Messages) == 0 {
		return nil, &SchemaError{Dialect: OpenAI, Message: "messages must not be empty"}
	}
	c := &canonicalRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.Stop,
	}
	for i, msg := range req.Messages {
		text, images, err := flattenOpenAIContent(msg.Content)
		if err != nil {
			return nil, &SchemaError{Dialect: OpenAI, Message: fmt.Sprintf("messages[%d]: %v", i, err)}
		}
		switch msg.Role {
		case "system", "developer":
			if c.System != "" {
				c.System += "\n"
			}
			c.System += text
		case "user", "assistant":
			c.Messages = append(c.Messages, canonicalMessage{Role: msg.Role, Text: text, Images: images})
		case "":
			return nil, &SchemaError{Dialect: OpenAI, Message: fmt.Sprintf("messages[%d]: missing role", i)}
		default:
			// tool/function turns flatten to user context
			c.Messages = append(c.Messages, canonicalMessage{Role: "user", Text: text})
		}
	}
	return c, nil
}

// flattenOpenAIContent folds string-or-parts content into text plus an image
// count.
func flattenOpenAIContent(raw json.RawMessage) (string, int, error) {
	if len(raw) == 0 {
		return "", 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, 0, nil
	}
	var parts []OpenAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", 0, fmt.Errorf("content must be a string or an array of parts")
	}
	var texts []string
	images := 0
	for _, p := range parts {
		switch p.Type {
		case "text":
			texts = append(texts, p.Text)
		case "image_url":
			images++
		}
	}
	return strings.Join(texts, "\n"), images, nil
}

func decodeAnthropicRequest(body []byte) (*canonicalRequest, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &SchemaError{Dialect: Anthropic, Message: err.Error()}
	}
	if len(req.Messages) == 0 {
		return nil, &SchemaError{Dialect: Anthropic, Message: "messages must not be empty"}
	}
	c := &canonicalRequest{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.StopSequences,
	}
	for i, msg := range req.Messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			return nil, &SchemaError{Dialect: Anthropic, Message: fmt.Sprintf("messages[%d]: role must be user or assistant", i)}
		}
		text, images, err := flattenAnthropicContent(msg.Content)
		if err != nil {
			return nil, &SchemaError{Dialect: Anthropic, Message: fmt.Sprintf("messages[%d]: %v", i, err)}
		}
		c.Messages = append(c.Messages, canonicalMessage{Role: msg.Role, Text: text, Images: images})
	}
	return c, nil
}

func flattenAnthropicContent(raw json.RawMessage) (string, int, error) {
	if len(raw) == 0 {
		return "", 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, 0, nil
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", 0, fmt.Errorf("content must be a string or an array of blocks")
	}
	var texts []string
	images := 0
	for _, b := range blocks {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "image":
			images++
		}
	}
	return strings.Join(texts, "\n"), images, nil
}

func decodeGoogleRequest(body []byte) (*canonicalRequest, error) {
	var req GoogleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &SchemaError{Dialect: Google, Message: err.Error()}
	}
	if len(req.Contents) == 0 {
		return nil, &SchemaError{Dialect: Google, Message: "contents must not be empty"}
	}
	c := &canonicalRequest{}
	if req.SystemInstruction != nil {
		var texts []string
		for _, p := range req.SystemInstruction.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		c.System = strings.Join(texts, "\n")
	}
	if gc := req.GenerationConfig; gc != nil {
		c.MaxTokens = gc.MaxOutputTokens
		c.Temperature = gc.Temperature
		c.TopP = gc.TopP
		c.Stop = gc.StopSequences
	}
	for _, content := range req.Contents {
		role := content.Role
		if role == "model" {
			role = "assistant"
		}
		if role == "" {
			role = "user"
		}
		var texts []string
		images := 0
		for _, p := range content.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
			if p.InlineData != nil {
				images++
			}
		}
		c.Messages = append(c.Messages, canonicalMessage{Role: role, Text: strings.Join(texts, "\n"), Images: images})
	}
	return c, nil
}

// decodeMistralRequest: Mistral's request body is wire-compatible with
// OpenAI's.
func decodeMistralRequest(body []byte) (*canonicalRequest, error) {
	c, err := decodeOpenAIRequest(body)
	if err != nil {
		if se, ok := err.(*SchemaError); ok {
			se.Dialect = Mistral
		}
		return nil, err
	}
	return c, nil
}

// --- request encoders ---

func encodeOpenAIRequest(c *canonicalRequest, meta RequestMeta) ([]byte, error) {
	req := OpenAIRequest{
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        c.TopP,
		Stream:      c.Stream,
		Stop:        c.Stop,
	}
	if c.System != "" {
		req.Messages = append(req.Messages, OpenAIMessage{Role: "system", Content: jsonString(c.System)})
	}
	for _, m := range c.Messages {
		req.Messages = append(req.Messages, OpenAIMessage{Role: m.Role, Content: jsonString(m.Text)})
	}
	return json.Marshal(req)
}

func encodeAnthropicRequest(c *canonicalRequest, meta RequestMeta) ([]byte, error) {
	req := AnthropicRequest{
		Model:         c.Model,
		System:        c.System,
		MaxTokens:     c.MaxTokens,
		Temperature:   c.Temperature,
		TopP:          c.TopP,
		Stream:        c.Stream,
		StopSequences: c.Stop,
	}
	// Anthropic requires max_tokens.
	if req.MaxTokens == 0 {
		req.MaxTokens = meta.MaxTokensCap
		if req.MaxTokens == 0 {
			req.MaxTokens = 4096
		}
	}
	// Anthropic requires the conversation to open with a user turn and to
	// alternate strictly; coalesce violations instead of rejecting.
	var msgs []AnthropicMessage
	for _, m := range c.Messages {
		if n := len(msgs); n > 0 && msgs[n-1].Role == m.Role {
			prev := &msgs[n-1]
			var prevText string
			_ = json.Unmarshal(prev.Content, &prevText)
			prev.Content = jsonString(prevText + "\n" + m.Text)
			continue
		}
		msgs = append(msgs, AnthropicMessage{Role: m.Role, Content: jsonString(m.Text)})
	}
	if len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = append([]AnthropicMessage{{Role: "user", Content: jsonString("")}}, msgs...)
	}
	req.Messages = msgs
	return json.Marshal(req)
}

func encodeGoogleRequest(c *canonicalRequest, meta RequestMeta) ([]byte, error) {
	req := GoogleRequest{}
	if c.System != "" {
		req.SystemInstruction = &GoogleContent{Parts: []GooglePart{{Text: c.System}}}
	}
	for _, m := range c.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		req.Contents = append(req.Contents, GoogleContent{
			Role:  role,
			Parts: []GooglePart{{Text: m.Text}},
		})
	}
	if c.MaxTokens > 0 || c.Temperature != nil || c.TopP != nil || len(c.Stop) > 0 {
		req.GenerationConfig = &GoogleGenerationConfig{
			MaxOutputTokens: c.MaxTokens,
			Temperature:     c.Temperature,
			TopP:            c.TopP,
			StopSequences:   c.Stop,
		}
	}
	return json.Marshal(req)
}

func encodeMistralRequest(c *canonicalRequest, meta RequestMeta) ([]byte, error) {
	return encodeOpenAIRequest(c, meta)
}

// jsonString marshals a string to its raw JSON form. Marshalling a string
// cannot fail.
func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
