package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"mercator-hq/charon/pkg/dialect"
	"mercator-hq/charon/pkg/keypool"
	"mercator-hq/charon/pkg/models"
)

func TestSign_Bearer(t *testing.T) {
	s := NewSigner(nil)
	req := &Request{
		Service: models.ServiceOpenAI,
		Model:   "gpt-4o",
		Body:    []byte(`{"model":"gpt-4o"}`),
		Key:     keypool.Key{Secret: "sk-test", Service: models.ServiceOpenAI, OrganizationID: "org-1"},
	}
	if err := s.Sign(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if req.Signed.URL != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("url = %q", req.Signed.URL)
	}
	if got := req.Signed.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("authorization = %q", got)
	}
	if got := req.Signed.Header.Get("OpenAI-Organization"); got != "org-1" {
		t.Errorf("organization header = %q", got)
	}
}

func TestSign_GoogleAIKeyQueryParam(t *testing.T) {
	s := NewSigner(nil)
	req := &Request{
		Service:     models.ServiceGoogleAI,
		Model:       "gemini-1.5-pro",
		IsStreaming: true,
		Body:        []byte(`{"contents":[]}`),
		Key:         keypool.Key{Secret: "AIza-secret", Service: models.ServiceGoogleAI},
	}
	if err := s.Sign(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	u := req.Signed.URL
	if !strings.Contains(u, ":streamGenerateContent") {
		t.Errorf("streaming requests must use streamGenerateContent: %q", u)
	}
	if !strings.Contains(u, "key=AIza-secret") {
		t.Errorf("google auth must ride the key query parameter: %q", u)
	}
	if !strings.Contains(u, "alt=sse") {
		t.Errorf("streaming requests must ask for SSE framing: %q", u)
	}
}

func TestSign_AzureDeploymentPath(t *testing.T) {
	s := NewSigner(nil)
	req := &Request{
		Service: models.ServiceAzure,
		Model:   "gpt-4o",
		Body:    []byte(`{"model":"gpt-4o"}`),
		Key: keypool.Key{
			Secret:        "az-secret",
			Service:       models.ServiceAzure,
			AzureResource: "myresource",
			AzureDeployID: "gpt4o-prod",
		},
	}
	if err := s.Sign(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	u := req.Signed.URL
	if !strings.Contains(u, "myresource.openai.azure.com/openai/deployments/gpt4o-prod/") {
		t.Errorf("azure url must route by deployment: %q", u)
	}
	if got := req.Signed.Header.Get("api-key"); got != "az-secret" {
		t.Errorf("api-key header = %q", got)
	}
}

func TestSign_AnthropicPreambleSplice(t *testing.T) {
	s := NewSigner(nil)
	req := &Request{
		Service: models.ServiceAnthropic,
		Model:   "claude-3-5-sonnet-20241022",
		Body:    []byte(`{"model":"claude-3-5-sonnet-20241022","system":"be brief","messages":[]}`),
		Key:     keypool.Key{Secret: "sk-ant", Service: models.ServiceAnthropic, RequiresPreamble: true},
	}
	if err := s.Sign(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	var body dialect.AnthropicRequest
	if err := json.Unmarshal(req.Signed.Body, &body); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(body.System, "\n\nHuman:") {
		t.Errorf("system = %q, want preamble prefix", body.System)
	}
}

func TestSign_AWSSigV4(t *testing.T) {
	s := NewSigner(nil)
	req := &Request{
		Service: models.ServiceAWS,
		Model:   "anthropic.claude-3-sonnet-20240229-v1:0",
		Body:    []byte(`{"model":"x","stream":true,"max_tokens":64,"messages":[]}`),
		Key: keypool.Key{
			Secret:  "us-east-1:AKIAEXAMPLE:secretkey",
			Service: models.ServiceAWS,
			Region:  "us-east-1",
		},
	}
	if err := s.Sign(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(req.Signed.URL, "bedrock-runtime.us-east-1.amazonaws.com/model/") {
		t.Errorf("url = %q", req.Signed.URL)
	}
	auth := req.Signed.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256") {
		t.Errorf("authorization = %q, want SigV4", auth)
	}

	// The Bedrock envelope drops model/stream and pins anthropic_version.
	var m map[string]json.RawMessage
	if err := json.Unmarshal(req.Signed.Body, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["model"]; ok {
		t.Error("bedrock body must not carry the model field")
	}
	if _, ok := m["stream"]; ok {
		t.Error("bedrock body must not carry the stream field")
	}
	if string(m["anthropic_version"]) != `"bedrock-2023-05-31"` {
		t.Errorf("anthropic_version = %s", m["anthropic_version"])
	}
}
