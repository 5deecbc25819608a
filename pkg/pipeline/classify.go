package pipeline

import (
	"strings"

	"mercator-hq/charon/pkg/models"
)

// Classification tags an upstream failure with its handling class.
type Classification string

const (
	ClassRetryable          Classification = "RETRYABLE"
	ClassKeyRevoked         Classification = "KEY_REVOKED"
	ClassKeyQuota           Classification = "KEY_QUOTA"
	ClassKeyRateLimited     Classification = "KEY_RATE_LIMITED"
	ClassKeyModelAccessLost Classification = "KEY_MODEL_ACCESS_LOST"
	ClassClientError        Classification = "CLIENT_ERROR"
	ClassUpstreamUnavail    Classification = "UPSTREAM_UNAVAILABLE"
	ClassUnknown            Classification = "UNKNOWN"
)

// Verdict is the classifier's full decision for one upstream failure.
type Verdict struct {
	Class Classification

	// Retry re-enqueues the request (subject to the retry cap).
	Retry bool

	// Refund returns the attempt's token credit (content-policy 400s).
	Refund bool

	// Passthrough forwards the upstream body verbatim to the client, with a
	// proxy note attached.
	Passthrough bool

	// SetRequiresPreamble patches the key before the retry (Anthropic
	// "prompt must start with Human:").
	SetRequiresPreamble bool

	// DisableMultimodality patches the key before the retry (Anthropic 403
	// on image input).
	DisableMultimodality bool

	// FamilyQuota marks only the request's family over quota on the key
	// (Google AI per-family accounting).
	FamilyQuota bool

	// NarrowModelAccess strips the request's family from the key without
	// disabling it (AWS AccessDeniedException on a specific model).
	NarrowModelAccess bool

	Note string
}

func bodyHas(body []byte, subs ...string) bool {
	s := strings.ToLower(string(body))
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Classify maps an upstream status and body to a handling verdict, using
// per-service rules layered over the canonical table.
func Classify(svc models.Service, status int, body []byte) Verdict {
	switch {
	case status == 400:
		return classify400(svc, body)
	case status == 401:
		return Verdict{Class: ClassKeyRevoked, Note: "credential rejected"}
	case status == 402 && svc == models.ServiceDeepseek:
		return Verdict{Class: ClassKeyQuota, Note: "insufficient balance"}
	case status == 403:
		return classify403(svc, body)
	case status == 404:
		if bodyHas(body, "model_not_found", "does not exist", "not found") {
			return Verdict{Class: ClassClientError, Passthrough: true, Note: "model not found"}
		}
		return Verdict{Class: ClassClientError, Note: "upstream returned 404"}
	case status == 405 && svc == models.ServiceXAI:
		if bodyHas(body, "insufficient balance", "credits") {
			return Verdict{Class: ClassKeyQuota, Note: "insufficient balance"}
		}
		return Verdict{Class: ClassUnknown}
	case status == 429:
		return classify429(svc, body)
	case status == 503 && svc == models.ServiceAWS:
		// Bedrock sheds load with 503s under contention; always requeue.
		return Verdict{Class: ClassRetryable, Retry: true, Note: "bedrock unavailable"}
	case status >= 500:
		return Verdict{Class: ClassUpstreamUnavail, Retry: true, Note: "upstream transient failure"}
	default:
		return Verdict{Class: ClassUnknown}
	}
}

func classify400(svc models.Service, body []byte) Verdict {
	if bodyHas(body, "billing_hard_limit_reached") {
		return Verdict{Class: ClassKeyQuota, Note: "billing hard limit"}
	}
	if svc == models.ServiceAnthropic && bodyHas(body, "prompt must start with", `\n\nhuman:`) {
		return Verdict{
			Class:               ClassRetryable,
			Retry:               true,
			SetRequiresPreamble: true,
			Note:                "key requires preamble",
		}
	}
	if bodyHas(body, "content_filter", "content filter", "content management policy",
		"moderation", "output blocked", "blocked by", "safety") {
		return Verdict{
			Class:       ClassClientError,
			Refund:      true,
			Passthrough: true,
			Note:        "filtered by upstream content policy",
		}
	}
	return Verdict{Class: ClassClientError, Passthrough: true}
}

func classify403(svc models.Service, body []byte) Verdict {
	switch svc {
	case models.ServiceAnthropic:
		if bodyHas(body, "multimodal", "image", "vision") {
			return Verdict{
				Class:                ClassRetryable,
				Retry:                true,
				DisableMultimodality: true,
				Note:                 "key denied multimodal input",
			}
		}
	case models.ServiceAWS:
		if bodyHas(body, "accessdeniedexception") {
			// Access lost to one model only; keep the key for the rest.
			return Verdict{
				Class:             ClassKeyModelAccessLost,
				Retry:             true,
				NarrowModelAccess: true,
				Note:              "model access denied",
			}
		}
	}
	if bodyHas(body, "invalid", "revoked", "disabled", "forbidden") {
		return Verdict{Class: ClassKeyRevoked, Note: "credential rejected"}
	}
	return Verdict{Class: ClassKeyRevoked, Note: "upstream returned 403"}
}

func classify429(svc models.Service, body []byte) Verdict {
	if svc == models.ServiceGoogleAI {
		if bodyHas(body, `"quota_limit_value":"0"`, `quota_limit_value: "0"`) {
			// The hard-disabled signature: this key will never serve again.
			return Verdict{Class: ClassKeyRevoked, Note: "hard-disabled quota signature"}
		}
		if bodyHas(body, "resource_exhausted", "quota") {
			return Verdict{
				Class:       ClassKeyQuota,
				Retry:       true,
				FamilyQuota: true,
				Note:        "per-family quota exhausted",
			}
		}
	}
	if bodyHas(body, "per day", "daily", "requests per day", "tpd", "rpd") {
		// Day-scale limits are not worth queueing through; surface them.
		return Verdict{Class: ClassKeyRateLimited, Passthrough: true, Note: "daily limit reached"}
	}
	return Verdict{Class: ClassKeyRateLimited, Retry: true, Note: "rate limited"}
}
