package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"mercator-hq/charon/pkg/models"
)

// defaultBaseURLs are the canonical provider endpoints, overridable per
// service through configuration.
var defaultBaseURLs = map[models.Service]string{
	models.ServiceOpenAI:    "https://api.openai.com",
	models.ServiceAnthropic: "https://api.anthropic.com",
	models.ServiceGoogleAI:  "https://generativelanguage.googleapis.com",
	models.ServiceMistralAI: "https://api.mistral.ai",
	models.ServiceDeepseek:  "https://api.deepseek.com",
	models.ServiceXAI:       "https://api.x.ai",
	models.ServiceCohere:    "https://api.cohere.ai/compatibility",
	models.ServiceQwen:      "https://dashscope.aliyuncs.com/compatible-mode",
	models.ServiceMoonshot:  "https://api.moonshot.ai",
}

const anthropicAPIVersion = "2023-06-01"

// Signer finalizes requests for their upstream: endpoint resolution,
// authentication, and the per-provider envelope rewrites. Signing mutates
// the request body for Bedrock and Vertex, so the body is snapshotted first
// and reverted on re-enqueue.
type Signer struct {
	baseURLs map[models.Service]string
	gcpToken *gcpTokenSource
}

// NewSigner builds a signer. overrides replaces base URLs per service.
func NewSigner(overrides map[models.Service]string) *Signer {
	urls := make(map[models.Service]string, len(defaultBaseURLs))
	for svc, u := range defaultBaseURLs {
		urls[svc] = u
	}
	for svc, u := range overrides {
		if u != "" {
			urls[svc] = u
		}
	}
	return &Signer{
		baseURLs: urls,
		gcpToken: newGCPTokenSource(),
	}
}

// Sign produces req.Signed for the current attempt using the dispatched key.
func (s *Signer) Sign(ctx context.Context, req *Request) error {
	req.RecordBody()
	switch req.Service {
	case models.ServiceAnthropic:
		return s.signAnthropic(req)
	case models.ServiceGoogleAI:
		return s.signGoogleAI(req)
	case models.ServiceAzure:
		return s.signAzure(req)
	case models.ServiceAWS:
		return s.signAWS(ctx, req)
	case models.ServiceGCP:
		return s.signGCP(ctx, req)
	default:
		return s.signBearer(req)
	}
}

// signBearer covers every OpenAI-compatible upstream.
func (s *Signer) signBearer(req *Request) error {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+req.Key.Secret)
	if req.Service == models.ServiceOpenAI && req.Key.OrganizationID != "" {
		h.Set("OpenAI-Organization", req.Key.OrganizationID)
	}
	req.Signed = &SignedRequest{
		Method: http.MethodPost,
		URL:    s.baseURLs[req.Service] + "/v1/chat/completions",
		Header: h,
		Body:   req.Body,
	}
	return nil
}

func (s *Signer) signAnthropic(req *Request) error {
	body := req.Body
	// Keys flagged as requiring the legacy preamble get the marker spliced
	// into the system field.
	if req.Key.RequiresPreamble {
		patched, err := spliceAnthropicPreamble(body)
		if err != nil {
			return err
		}
		body = patched
		req.Body = patched
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("x-api-key", req.Key.Secret)
	h.Set("anthropic-version", anthropicAPIVersion)
	req.Signed = &SignedRequest{
		Method: http.MethodPost,
		URL:    s.baseURLs[models.ServiceAnthropic] + "/v1/messages",
		Header: h,
		Body:   body,
	}
	return nil
}

func (s *Signer) signGoogleAI(req *Request) error {
	verb := "generateContent"
	if req.IsStreaming {
		verb = "streamGenerateContent"
	}
	u := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s",
		s.baseURLs[models.ServiceGoogleAI], url.PathEscape(req.Model), verb, url.QueryEscape(req.Key.Secret))
	if req.IsStreaming {
		u += "&alt=sse"
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	req.Signed = &SignedRequest{
		Method: http.MethodPost,
		URL:    u,
		Header: h,
		Body:   req.Body,
	}
	return nil
}

// signAzure rewrites the request onto the deployment path; Azure routes by
// deployment id, not by the model field.
func (s *Signer) signAzure(req *Request) error {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("api-key", req.Key.Secret)
	u := fmt.Sprintf("https://%s.openai.azure.com/openai/deployments/%s/chat/completions?api-version=2024-06-01",
		url.PathEscape(req.Key.AzureResource), url.PathEscape(req.Key.AzureDeployID))
	req.Signed = &SignedRequest{
		Method: http.MethodPost,
		URL:    u,
		Header: h,
		Body:   req.Body,
	}
	return nil
}

// spliceAnthropicPreamble prefixes the system field with the legacy
// "\n\nHuman:" marker some credentials insist on.
func spliceAnthropicPreamble(body []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to splice preamble: %w", err)
	}
	var system string
	if raw, ok := m["system"]; ok {
		json.Unmarshal(raw, &system)
	}
	patched, _ := json.Marshal("\n\nHuman: " + system)
	m["system"] = patched
	return json.Marshal(m)
}

// anthropicEnvelopeFor rewrites an Anthropic body for the Bedrock/Vertex
// envelope: those endpoints carry the model in the URL and the stream flag
// in the verb, and require their own anthropic_version value.
func anthropicEnvelopeFor(body []byte, version string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to rewrite anthropic envelope: %w", err)
	}
	delete(m, "model")
	delete(m, "stream")
	v, _ := json.Marshal(version)
	m["anthropic_version"] = v
	return json.Marshal(m)
}
