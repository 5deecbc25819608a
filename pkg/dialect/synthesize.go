package dialect

import "fmt"

// BlockingToEvents synthesizes a client-dialect event stream from a blocking
// upstream response. Used when the upstream cannot stream in a framing the
// gateway speaks (Bedrock's proprietary event stream) but the client asked
// for SSE.
func BlockingToEvents(from, to Dialect, body []byte, meta RequestMeta) ([]Event, error) {
	decode, ok := responseDecoders[from]
	if !ok {
		return nil, fmt.Errorf("unknown upstream dialect %q", from)
	}
	c, err := decode(body)
	if err != nil {
		return nil, err
	}

	tr, err := NewStreamTransformer(from, to, meta.RequestID, meta.Model)
	if err != nil {
		return nil, err
	}
	if c.PromptTokens > 0 || c.CompletionTokens > 0 {
		tr.hasUsage = true
		tr.usageIn = c.PromptTokens
		tr.usageOut = c.CompletionTokens
	}
	st := &tr.state
	if c.Model != "" {
		st.model = c.Model
	}

	var out []Event
	out = append(out, tr.emit.render(streamDelta{roleStart: true}, st)...)
	if c.Text != "" {
		out = append(out, tr.emit.render(streamDelta{text: c.Text}, st)...)
	}
	if c.FinishReason != "" {
		out = append(out, tr.emit.render(streamDelta{finish: c.FinishReason}, st)...)
	}
	out = append(out, tr.Close()...)
	return out, nil
}
