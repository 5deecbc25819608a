package models

// catalog lists the representative model ids advertised per family on the
// models endpoint. It is not exhaustive; unlisted ids still resolve through
// the regex rules.
var catalog = map[Family][]string{
	FamilyGPT4o:       {"gpt-4o", "gpt-4o-2024-08-06", "gpt-4o-mini"},
	FamilyGPT4Turbo:   {"gpt-4-turbo", "gpt-4-turbo-2024-04-09"},
	FamilyGPT4:        {"gpt-4", "gpt-4-0613"},
	FamilyGPT35Turbo:  {"gpt-3.5-turbo", "gpt-3.5-turbo-0125"},
	FamilyO1:          {"o1", "o1-mini", "o1-preview"},
	FamilyClaude:      {"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022"},
	FamilyClaudeOpus:  {"claude-3-opus-20240229"},
	FamilyGeminiPro:   {"gemini-1.5-pro"},
	FamilyGeminiFlash: {"gemini-1.5-flash", "gemini-1.5-flash-8b"},
	FamilyMistral:     {"mistral-large-2411", "mistral-small-2409", "open-mistral-nemo"},
	FamilyDeepseek:    {"deepseek-chat", "deepseek-reasoner"},
	FamilyGrok:        {"grok-2", "grok-2-mini"},
	FamilyCommandR:    {"command-r-plus", "command-r"},
	FamilyQwen:        {"qwen2.5-72b-instruct", "qwen-max"},
	FamilyMoonshot:    {"moonshot-v1-128k", "kimi-k2"},
	FamilyAWSClaude:   {"anthropic.claude-3-5-sonnet-20241022-v2:0", "anthropic.claude-3-opus-20240229-v1:0"},
	FamilyGCPClaude:   {"claude-3-5-sonnet@20241022"},
	FamilyAzureGPT4o:  {"gpt-4o", "gpt-4o-mini"},
}

// KnownModelIDs returns the advertised model ids for a service, restricted
// to the allowed families (empty allow-list permits everything).
func KnownModelIDs(svc Service, allowed []Family) []string {
	var out []string
	for _, fam := range FilterFamilies(FamiliesForService(svc), allowed) {
		out = append(out, catalog[fam]...)
	}
	return out
}
