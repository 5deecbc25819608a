package userstore

import "context"

// Store records per-token usage. Implementations must be safe for
// concurrent use.
type Store interface {
	// IncrementPromptCount adds one prompt to the token's tally.
	IncrementPromptCount(ctx context.Context, token string) error

	// IncrementTokenCount credits token usage for one model under the given
	// dialect.
	IncrementTokenCount(ctx context.Context, token, model, dialect string, input, output int64) error

	// Close releases resources.
	Close() error
}
