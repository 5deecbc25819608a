package pipeline

import (
	"testing"

	"mercator-hq/charon/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		service models.Service
		status  int
		body    string
		class   Classification
		retry   bool
		refund  bool
	}{
		{
			name:    "openai content filter",
			service: models.ServiceOpenAI,
			status:  400,
			body:    `{"error":{"code":"content_filter","message":"blocked"}}`,
			class:   ClassClientError,
			refund:  true,
		},
		{
			name:    "billing hard limit",
			service: models.ServiceOpenAI,
			status:  400,
			body:    `{"error":{"code":"billing_hard_limit_reached"}}`,
			class:   ClassKeyQuota,
		},
		{
			name:    "anthropic preamble",
			service: models.ServiceAnthropic,
			status:  400,
			body:    `{"error":{"message":"prompt must start with \"\\n\\nHuman:\" turn"}}`,
			class:   ClassRetryable,
			retry:   true,
		},
		{
			name:    "revoked credential",
			service: models.ServiceOpenAI,
			status:  401,
			body:    `{"error":{"message":"Incorrect API key provided"}}`,
			class:   ClassKeyRevoked,
		},
		{
			name:    "deepseek insufficient balance",
			service: models.ServiceDeepseek,
			status:  402,
			body:    `{"error":{"message":"Insufficient Balance"}}`,
			class:   ClassKeyQuota,
		},
		{
			name:    "xai insufficient balance",
			service: models.ServiceXAI,
			status:  405,
			body:    `{"error":"insufficient balance on credits"}`,
			class:   ClassKeyQuota,
		},
		{
			name:    "anthropic multimodal denial",
			service: models.ServiceAnthropic,
			status:  403,
			body:    `{"error":{"message":"this api key does not have access to image inputs"}}`,
			class:   ClassRetryable,
			retry:   true,
		},
		{
			name:    "aws model access lost",
			service: models.ServiceAWS,
			status:  403,
			body:    `{"__type":"AccessDeniedException","message":"You don't have access to the model"}`,
			class:   ClassKeyModelAccessLost,
			retry:   true,
		},
		{
			name:    "model not found",
			service: models.ServiceOpenAI,
			status:  404,
			body:    `{"error":{"code":"model_not_found"}}`,
			class:   ClassClientError,
		},
		{
			name:    "plain rate limit",
			service: models.ServiceAnthropic,
			status:  429,
			body:    `{"type":"error","error":{"type":"rate_limit_error","message":"Too many requests"}}`,
			class:   ClassKeyRateLimited,
			retry:   true,
		},
		{
			name:    "daily rate limit surfaces",
			service: models.ServiceOpenAI,
			status:  429,
			body:    `{"error":{"message":"You have reached your requests per day limit (RPD)"}}`,
			class:   ClassKeyRateLimited,
			retry:   false,
		},
		{
			name:    "google per-family quota",
			service: models.ServiceGoogleAI,
			status:  429,
			body:    `{"error":{"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded for metric"}}`,
			class:   ClassKeyQuota,
			retry:   true,
		},
		{
			name:    "google hard disabled signature",
			service: models.ServiceGoogleAI,
			status:  429,
			body:    `{"error":{"details":[{"quota_limit_value":"0"}]}}`,
			class:   ClassKeyRevoked,
		},
		{
			name:    "aws 503 requeues",
			service: models.ServiceAWS,
			status:  503,
			body:    `{"message":"Bedrock is unable to process your request"}`,
			class:   ClassRetryable,
			retry:   true,
		},
		{
			name:    "generic 500 transient",
			service: models.ServiceOpenAI,
			status:  500,
			body:    `{"error":{"message":"The server had an error"}}`,
			class:   ClassUpstreamUnavail,
			retry:   true,
		},
		{
			name:    "teapot is unknown",
			service: models.ServiceOpenAI,
			status:  418,
			body:    ``,
			class:   ClassUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.service, tt.status, []byte(tt.body))
			if v.Class != tt.class {
				t.Errorf("class = %s, want %s", v.Class, tt.class)
			}
			if v.Retry != tt.retry {
				t.Errorf("retry = %v, want %v", v.Retry, tt.retry)
			}
			if v.Refund != tt.refund {
				t.Errorf("refund = %v, want %v", v.Refund, tt.refund)
			}
		})
	}
}

func TestClassify_GoogleFamilyQuotaFlag(t *testing.T) {
	v := Classify(models.ServiceGoogleAI, 429, []byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	if !v.FamilyQuota {
		t.Error("google quota exhaustion must be per-family")
	}
}

func TestClassify_AnthropicPreambleFlag(t *testing.T) {
	v := Classify(models.ServiceAnthropic, 400, []byte(`prompt must start with "\n\nHuman:"`))
	if !v.SetRequiresPreamble {
		t.Error("preamble rejection must patch the key")
	}
}
