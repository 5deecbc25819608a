package dialect

import "fmt"

// RequestMeta carries per-request context into the transform functions.
// RequestID seeds every synthesized identifier so transforms stay
// deterministic for a given request.
type RequestMeta struct {
	RequestID    string
	Model        string
	Stream       bool
	MaxTokensCap int
}

// RequestTransform rewrites a validated request body from one dialect into
// another. Transforms are pure: same bytes and meta in, same bytes out.
type RequestTransform func(body []byte, meta RequestMeta) ([]byte, error)

type requestDecoder func(body []byte) (*canonicalRequest, error)
type requestEncoder func(c *canonicalRequest, meta RequestMeta) ([]byte, error)

var requestDecoders = map[Dialect]requestDecoder{
	OpenAI:    decodeOpenAIRequest,
	Anthropic: decodeAnthropicRequest,
	Google:    decodeGoogleRequest,
	Mistral:   decodeMistralRequest,
}

var requestEncoders = map[Dialect]requestEncoder{
	OpenAI:    encodeOpenAIRequest,
	Anthropic: encodeAnthropicRequest,
	Google:    encodeGoogleRequest,
	Mistral:   encodeMistralRequest,
}

// requestTransforms is the (inDialect, outDialect) table. Entries are
// composed from the decoder/encoder pairs; identity pairs still validate the
// body against the dialect schema.
var requestTransforms = buildRequestTable()

func buildRequestTable() map[Dialect]map[Dialect]RequestTransform {
	table := make(map[Dialect]map[Dialect]RequestTransform, len(All))
	for _, in := range All {
		table[in] = make(map[Dialect]RequestTransform, len(All))
		for _, out := range All {
			decode, encode := requestDecoders[in], requestEncoders[out]
			table[in][out] = func(body []byte, meta RequestMeta) ([]byte, error) {
				c, err := decode(body)
				if err != nil {
					return nil, err
				}
				c.Model = meta.Model
				c.Stream = meta.Stream
				return encode(c, meta)
			}
		}
	}
	return table
}

// TransformRequest validates body against the in dialect and rewrites it for
// the out dialect.
func TransformRequest(in, out Dialect, body []byte, meta RequestMeta) ([]byte, error) {
	row, ok := requestTransforms[in]
	if !ok {
		return nil, fmt.Errorf("unknown inbound dialect %q", in)
	}
	tf, ok := row[out]
	if !ok {
		return nil, fmt.Errorf("unknown outbound dialect %q", out)
	}
	return tf(body, meta)
}

// PromptStats summarizes the prompt content of a validated request body, for
// token counting and admission control.
type PromptStats struct {
	// Text is every prompt segment (system plus messages) joined by
	// newlines.
	Text string

	// Images is the number of multimodal image parts.
	Images int

	// MaxTokens is the request's max_tokens, zero when omitted.
	MaxTokens int

	// Stream reports whether the client asked for a streamed response.
	Stream bool

	// Model is the request's model field.
	Model string
}

// InspectRequest validates a request body against its dialect and returns
// its prompt statistics.
func InspectRequest(d Dialect, body []byte) (*PromptStats, error) {
	decode, ok := requestDecoders[d]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q", d)
	}
	c, err := decode(body)
	if err != nil {
		return nil, err
	}
	stats := &PromptStats{
		MaxTokens: c.MaxTokens,
		Stream:    c.Stream,
		Model:     c.Model,
	}
	text := c.System
	for _, m := range c.Messages {
		if text != "" {
			text += "\n"
		}
		text += m.Text
		stats.Images += m.Images
	}
	stats.Text = text
	return stats, nil
}
