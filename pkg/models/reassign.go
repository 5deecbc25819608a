package models

import "strings"

// aliasTable maps loose client-side model names to dated canonical ids.
// Clients frequently send "-latest" aliases or legacy names; upstreams want
// the canonical identifier.
var aliasTable = map[string]string{
	"claude-3-5-sonnet-latest": "claude-3-5-sonnet-20241022",
	"claude-3.5-sonnet-latest": "claude-3-5-sonnet-20241022",
	"claude-3.5-sonnet":        "claude-3-5-sonnet-20241022",
	"claude-3-opus-latest":     "claude-3-opus-20240229",
	"claude-2":                 "claude-2.1",
	"gpt-4o-latest":            "gpt-4o-2024-08-06",
	"gemini-pro":               "gemini-1.5-pro",
	"gemini-flash":             "gemini-1.5-flash",
	"mistral-large-latest":     "mistral-large-2411",
	"mistral-small-latest":     "mistral-small-2409",
	"deepseek-chat-latest":     "deepseek-chat",
	"kimi-latest":              "moonshot-v1-128k",
}

// MaybeReassignModel normalizes a client-supplied model identifier.
// It strips the Google "models/" prefix, lowercases, replaces dotted claude
// versions, and resolves "-latest" aliases to dated canonical ids. The
// function is deterministic and purely a function of its input.
func MaybeReassignModel(model string) string {
	m := strings.TrimSpace(model)
	m = strings.TrimPrefix(m, "models/")
	m = strings.ToLower(m)
	if canonical, ok := aliasTable[m]; ok {
		return canonical
	}
	// claude-3.5-x → claude-3-5-x, the form Anthropic's API accepts
	if strings.HasPrefix(m, "claude-") {
		m = strings.ReplaceAll(m, "3.5", "3-5")
		m = strings.ReplaceAll(m, "3.7", "3-7")
	}
	return m
}
