package models

import (
	"regexp"
	"strings"
)

// Service identifies one upstream provider.
type Service string

// Known services.
const (
	ServiceOpenAI    Service = "openai"
	ServiceAnthropic Service = "anthropic"
	ServiceGoogleAI  Service = "google-ai"
	ServiceMistralAI Service = "mistral-ai"
	ServiceAWS       Service = "aws"
	ServiceGCP       Service = "gcp"
	ServiceAzure     Service = "azure"
	ServiceDeepseek  Service = "deepseek"
	ServiceXAI       Service = "xai"
	ServiceCohere    Service = "cohere"
	ServiceQwen      Service = "qwen"
	ServiceMoonshot  Service = "moonshot"
)

// AllServices lists every service the gateway can front, in stable order.
var AllServices = []Service{
	ServiceOpenAI, ServiceAnthropic, ServiceGoogleAI, ServiceMistralAI,
	ServiceAWS, ServiceGCP, ServiceAzure, ServiceDeepseek, ServiceXAI,
	ServiceCohere, ServiceQwen, ServiceMoonshot,
}

// Family is a coarse grouping of models that share billing and rate-limit
// characteristics. Families are the unit of queue partitioning and of
// per-credential permission tracking.
type Family string

// Known model families.
const (
	FamilyGPT4o       Family = "gpt4o"
	FamilyGPT4Turbo   Family = "gpt4-turbo"
	FamilyGPT4        Family = "gpt4"
	FamilyGPT35Turbo  Family = "gpt3.5-turbo"
	FamilyO1          Family = "o1"
	FamilyClaude      Family = "claude"
	FamilyClaudeOpus  Family = "claude-opus"
	FamilyGeminiPro   Family = "gemini-pro"
	FamilyGeminiFlash Family = "gemini-flash"
	FamilyMistral     Family = "mistral"
	FamilyDeepseek    Family = "deepseek"
	FamilyGrok        Family = "grok"
	FamilyCommandR    Family = "command-r"
	FamilyQwen        Family = "qwen"
	FamilyMoonshot    Family = "moonshot"
	FamilyAWSClaude   Family = "aws-claude"
	FamilyGCPClaude   Family = "gcp-claude"
	FamilyAzureGPT4o  Family = "azure-gpt4o"
)

// rule resolves a model identifier to a family on the given service. Rules
// are evaluated in order; the first match wins.
type rule struct {
	re      *regexp.Regexp
	family  Family
	service Service
}

var rules = []rule{
	// Ordering matters: the more specific patterns come first.
	{regexp.MustCompile(`^o1`), FamilyO1, ServiceOpenAI},
	{regexp.MustCompile(`^gpt-4o`), FamilyGPT4o, ServiceOpenAI},
	{regexp.MustCompile(`^chatgpt-4o`), FamilyGPT4o, ServiceOpenAI},
	{regexp.MustCompile(`^gpt-4-turbo|^gpt-4-\d{4}-preview`), FamilyGPT4Turbo, ServiceOpenAI},
	{regexp.MustCompile(`^gpt-4`), FamilyGPT4, ServiceOpenAI},
	{regexp.MustCompile(`^gpt-3\.5-turbo`), FamilyGPT35Turbo, ServiceOpenAI},
	{regexp.MustCompile(`^claude-(3-)?opus`), FamilyClaudeOpus, ServiceAnthropic},
	{regexp.MustCompile(`^claude-`), FamilyClaude, ServiceAnthropic},
	{regexp.MustCompile(`^anthropic\.claude-3-opus`), FamilyAWSClaude, ServiceAWS},
	{regexp.MustCompile(`^anthropic\.claude`), FamilyAWSClaude, ServiceAWS},
	{regexp.MustCompile(`^claude@|^publishers/anthropic/`), FamilyGCPClaude, ServiceGCP},
	{regexp.MustCompile(`^gemini-.*-flash|^gemini-flash`), FamilyGeminiFlash, ServiceGoogleAI},
	{regexp.MustCompile(`^gemini-`), FamilyGeminiPro, ServiceGoogleAI},
	{regexp.MustCompile(`^(open-)?(mistral|mixtral|codestral|ministral)`), FamilyMistral, ServiceMistralAI},
	{regexp.MustCompile(`^deepseek`), FamilyDeepseek, ServiceDeepseek},
	{regexp.MustCompile(`^grok-`), FamilyGrok, ServiceXAI},
	{regexp.MustCompile(`^command`), FamilyCommandR, ServiceCohere},
	{regexp.MustCompile(`^qwen`), FamilyQwen, ServiceQwen},
	{regexp.MustCompile(`^(moonshot|kimi)`), FamilyMoonshot, ServiceMoonshot},
}

// Resolve maps a model identifier to its family and owning service.
// The identifier is normalized (see MaybeReassignModel) before matching.
func Resolve(model string) (Family, Service, bool) {
	model = MaybeReassignModel(model)
	for _, r := range rules {
		if r.re.MatchString(model) {
			return r.family, r.service, true
		}
	}
	return "", "", false
}

// ResolveForService maps a model identifier to a family, constrained to the
// given service. Azure shares OpenAI model names but bills under its own
// family; AWS and GCP front Anthropic model ids.
func ResolveForService(model string, svc Service) (Family, bool) {
	fam, native, ok := Resolve(model)
	if !ok {
		return "", false
	}
	switch svc {
	case ServiceAzure:
		if native == ServiceOpenAI {
			return FamilyAzureGPT4o, true
		}
	case ServiceAWS:
		if native == ServiceAnthropic || native == ServiceAWS {
			return FamilyAWSClaude, true
		}
		if native == ServiceMistralAI {
			return FamilyMistral, true
		}
	case ServiceGCP:
		if native == ServiceAnthropic || native == ServiceGCP {
			return FamilyGCPClaude, true
		}
	case "", native:
		return fam, true
	default:
		if svc != native {
			return "", false
		}
	}
	return fam, true
}

// FamiliesForService returns the families a service can serve, in stable order.
func FamiliesForService(svc Service) []Family {
	switch svc {
	case ServiceOpenAI:
		return []Family{FamilyGPT4o, FamilyGPT4Turbo, FamilyGPT4, FamilyGPT35Turbo, FamilyO1}
	case ServiceAnthropic:
		return []Family{FamilyClaude, FamilyClaudeOpus}
	case ServiceGoogleAI:
		return []Family{FamilyGeminiPro, FamilyGeminiFlash}
	case ServiceMistralAI:
		return []Family{FamilyMistral}
	case ServiceAWS:
		return []Family{FamilyAWSClaude, FamilyMistral}
	case ServiceGCP:
		return []Family{FamilyGCPClaude}
	case ServiceAzure:
		return []Family{FamilyAzureGPT4o}
	case ServiceDeepseek:
		return []Family{FamilyDeepseek}
	case ServiceXAI:
		return []Family{FamilyGrok}
	case ServiceCohere:
		return []Family{FamilyCommandR}
	case ServiceQwen:
		return []Family{FamilyQwen}
	case ServiceMoonshot:
		return []Family{FamilyMoonshot}
	}
	return nil
}

// contextRule maps model identifiers to their maximum context window.
type contextRule struct {
	re  *regexp.Regexp
	max int
}

var contextRules = []contextRule{
	{regexp.MustCompile(`^o1`), 200_000},
	{regexp.MustCompile(`^gpt-4o`), 128_000},
	{regexp.MustCompile(`^gpt-4-turbo|^gpt-4-\d{4}-preview`), 128_000},
	{regexp.MustCompile(`^gpt-4-32k`), 32_768},
	{regexp.MustCompile(`^gpt-4`), 8_192},
	{regexp.MustCompile(`^gpt-3\.5-turbo`), 16_385},
	{regexp.MustCompile(`^claude-|^anthropic\.claude|^claude@`), 200_000},
	{regexp.MustCompile(`^gemini-1\.5|^gemini-2`), 1_000_000},
	{regexp.MustCompile(`^gemini-`), 32_768},
	{regexp.MustCompile(`^(open-)?(mistral|mixtral|codestral|ministral)`), 128_000},
	{regexp.MustCompile(`^deepseek`), 64_000},
	{regexp.MustCompile(`^grok-`), 131_072},
	{regexp.MustCompile(`^command`), 128_000},
	{regexp.MustCompile(`^qwen`), 131_072},
	{regexp.MustCompile(`^(moonshot|kimi)`), 128_000},
}

// defaultContextWindow is used for models no rule matches.
const defaultContextWindow = 32_768

// ContextWindow returns the maximum context size, in tokens, for a model.
func ContextWindow(model string) int {
	model = MaybeReassignModel(model)
	for _, r := range contextRules {
		if r.re.MatchString(model) {
			return r.max
		}
	}
	return defaultContextWindow
}

// MaxOutputTokens returns the per-model output ceiling applied when a client
// omits max_tokens.
func MaxOutputTokens(model string) int {
	fam, _, ok := Resolve(model)
	if !ok {
		return 4096
	}
	switch fam {
	case FamilyO1:
		return 32_768
	case FamilyGeminiPro, FamilyGeminiFlash:
		return 8_192
	case FamilyClaude, FamilyClaudeOpus, FamilyAWSClaude, FamilyGCPClaude:
		return 8_192
	default:
		return 4_096
	}
}

// FilterFamilies intersects fams with the allow-list. An empty allow-list
// permits everything.
func FilterFamilies(fams []Family, allowed []Family) []Family {
	if len(allowed) == 0 {
		return fams
	}
	set := make(map[Family]struct{}, len(allowed))
	for _, f := range allowed {
		set[f] = struct{}{}
	}
	var out []Family
	for _, f := range fams {
		if _, ok := set[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// ParseFamilyList parses a comma-separated family list (the
// ALLOWED_MODEL_FAMILIES format). Unknown entries are dropped.
func ParseFamilyList(s string) []Family {
	if s == "" {
		return nil
	}
	known := make(map[Family]struct{})
	for _, svc := range AllServices {
		for _, f := range FamiliesForService(svc) {
			known[f] = struct{}{}
		}
	}
	var out []Family
	for _, part := range strings.Split(s, ",") {
		f := Family(strings.TrimSpace(part))
		if _, ok := known[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
