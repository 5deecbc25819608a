// Package tokens counts prompt and completion tokens per dialect.
//
// OpenAI-dialect prompts are counted with a BPE tokenizer; the other
// dialects use per-provider character ratios. Counts are monotonic (adding
// content never decreases the count) and an empty prompt counts zero. Images
// add a fixed per-image estimate.
package tokens
