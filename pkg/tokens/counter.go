package tokens

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"mercator-hq/charon/pkg/dialect"
)

// ImageTokenEstimate is the fixed token charge per multimodal image part.
const ImageTokenEstimate = 1200

// Per-dialect characters-per-token ratios for the providers without a local
// BPE vocabulary. Conservative (low) ratios overestimate slightly, which is
// the safe direction for admission control.
const (
	anthropicCharsPerToken = 3.5
	googleCharsPerToken    = 4.0
)

// Counter counts tokens per dialect. It is safe for concurrent use; the BPE
// encoder is initialized once on first use and the counter degrades to a
// character heuristic if the encoding cannot be loaded.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoder() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("failed to load BPE encoding, falling back to character estimate", "error", err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

// CountText counts the tokens of one text segment under a dialect.
func (c *Counter) CountText(d dialect.Dialect, text string) int {
	if text == "" {
		return 0
	}
	switch d {
	case dialect.OpenAI, dialect.Mistral:
		if enc := c.encoder(); enc != nil {
			return len(enc.Encode(text, nil, nil))
		}
		return charEstimate(text, 4.0)
	case dialect.Anthropic:
		return charEstimate(text, anthropicCharsPerToken)
	case dialect.Google:
		return charEstimate(text, googleCharsPerToken)
	default:
		return charEstimate(text, 4.0)
	}
}

// CountPrompt counts a full prompt: the flattened text plus the fixed
// per-image estimate.
func (c *Counter) CountPrompt(d dialect.Dialect, stats *dialect.PromptStats) int {
	n := c.CountText(d, stats.Text)
	n += stats.Images * ImageTokenEstimate
	return n
}

// charEstimate divides the character count by the ratio, rounding up so the
// estimate stays monotonic and nonzero for non-empty text.
func charEstimate(text string, charsPerToken float64) int {
	n := int(float64(len(text))/charsPerToken + 0.999)
	if n < 1 {
		n = 1
	}
	return n
}
