package models

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		model   string
		family  Family
		service Service
	}{
		{"gpt-4o-2024-08-06", FamilyGPT4o, ServiceOpenAI},
		{"gpt-4o-mini", FamilyGPT4o, ServiceOpenAI},
		{"gpt-4-turbo", FamilyGPT4Turbo, ServiceOpenAI},
		{"gpt-4-0125-preview", FamilyGPT4Turbo, ServiceOpenAI},
		{"gpt-4", FamilyGPT4, ServiceOpenAI},
		{"gpt-3.5-turbo-0125", FamilyGPT35Turbo, ServiceOpenAI},
		{"o1-preview", FamilyO1, ServiceOpenAI},
		{"claude-3-5-sonnet-20241022", FamilyClaude, ServiceAnthropic},
		{"claude-3-opus-20240229", FamilyClaudeOpus, ServiceAnthropic},
		{"anthropic.claude-3-sonnet-20240229-v1:0", FamilyAWSClaude, ServiceAWS},
		{"gemini-1.5-pro", FamilyGeminiPro, ServiceGoogleAI},
		{"gemini-1.5-flash", FamilyGeminiFlash, ServiceGoogleAI},
		{"mistral-large-2411", FamilyMistral, ServiceMistralAI},
		{"mixtral-8x7b", FamilyMistral, ServiceMistralAI},
		{"deepseek-chat", FamilyDeepseek, ServiceDeepseek},
		{"grok-2", FamilyGrok, ServiceXAI},
		{"command-r-plus", FamilyCommandR, ServiceCohere},
		{"qwen2.5-72b-instruct", FamilyQwen, ServiceQwen},
		{"moonshot-v1-32k", FamilyMoonshot, ServiceMoonshot},
		{"kimi-k2", FamilyMoonshot, ServiceMoonshot},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			fam, svc, ok := Resolve(tt.model)
			if !ok {
				t.Fatalf("Resolve(%q) did not match", tt.model)
			}
			if fam != tt.family {
				t.Errorf("family = %q, want %q", fam, tt.family)
			}
			if svc != tt.service {
				t.Errorf("service = %q, want %q", svc, tt.service)
			}
		})
	}
}

func TestResolve_Unknown(t *testing.T) {
	if _, _, ok := Resolve("definitely-not-a-model"); ok {
		t.Error("expected no match for unknown model")
	}
}

func TestResolveForService(t *testing.T) {
	// Azure shares OpenAI model names but bills under its own family.
	fam, ok := ResolveForService("gpt-4o", ServiceAzure)
	if !ok || fam != FamilyAzureGPT4o {
		t.Errorf("azure gpt-4o = (%q, %v), want (%q, true)", fam, ok, FamilyAzureGPT4o)
	}

	// AWS fronts Anthropic model ids under aws-claude.
	fam, ok = ResolveForService("claude-3-5-sonnet-20241022", ServiceAWS)
	if !ok || fam != FamilyAWSClaude {
		t.Errorf("aws claude = (%q, %v), want (%q, true)", fam, ok, FamilyAWSClaude)
	}

	// A model constrained to the wrong service does not resolve.
	if _, ok := ResolveForService("gpt-4o", ServiceAnthropic); ok {
		t.Error("gpt-4o should not resolve on the anthropic service")
	}
}

func TestMaybeReassignModel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"claude-3.5-sonnet-latest", "claude-3-5-sonnet-20241022"},
		{"claude-3-5-sonnet-latest", "claude-3-5-sonnet-20241022"},
		{"models/gemini-1.5-pro", "gemini-1.5-pro"},
		{"gemini-pro", "gemini-1.5-pro"},
		{"GPT-4o", "gpt-4o"},
		{"claude-3.5-haiku-20241022", "claude-3-5-haiku-20241022"},
		{"gpt-4o-2024-08-06", "gpt-4o-2024-08-06"},
	}
	for _, tt := range tests {
		if got := MaybeReassignModel(tt.in); got != tt.want {
			t.Errorf("MaybeReassignModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaybeReassignModel_Deterministic(t *testing.T) {
	a := MaybeReassignModel("claude-3.5-sonnet-latest")
	b := MaybeReassignModel("claude-3.5-sonnet-latest")
	if a != b {
		t.Errorf("reassignment not deterministic: %q vs %q", a, b)
	}
}

func TestContextWindow(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"gpt-4o", 128_000},
		{"gpt-4", 8_192},
		{"gpt-4-32k", 32_768},
		{"claude-3-5-sonnet-20241022", 200_000},
		{"gemini-1.5-pro", 1_000_000},
		{"some-unknown-model", defaultContextWindow},
	}
	for _, tt := range tests {
		if got := ContextWindow(tt.model); got != tt.want {
			t.Errorf("ContextWindow(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestParseFamilyList(t *testing.T) {
	fams := ParseFamilyList("claude, gpt4o, bogus-family")
	if len(fams) != 2 {
		t.Fatalf("got %d families, want 2: %v", len(fams), fams)
	}
	if fams[0] != FamilyClaude || fams[1] != FamilyGPT4o {
		t.Errorf("unexpected families: %v", fams)
	}
}

func TestUsageCost(t *testing.T) {
	// 1M input + 1M output tokens of claude = $3 + $15.
	got := UsageCost(FamilyClaude, 1_000_000, 1_000_000)
	if got < 17.99 || got > 18.01 {
		t.Errorf("UsageCost = %f, want 18.0", got)
	}
}
