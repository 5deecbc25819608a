package pipeline

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// UpstreamClient performs the finalized HTTP calls. Network-level failures
// (connection refused, reset) are retried in place with exponential backoff;
// HTTP-status failures are never retried here, the error classifier owns
// that policy.
type UpstreamClient struct {
	client     *http.Client
	maxNetTries uint
}

// UpstreamConfig tunes the client.
type UpstreamConfig struct {
	// Timeout is the end-to-end cap for blocking calls; streaming reads are
	// governed separately by the pipeline's idle timeout.
	Timeout time.Duration

	// MaxIdleConnsPerHost sizes the connection pool.
	MaxIdleConnsPerHost int
}

// NewUpstreamClient builds a client with connection pooling.
func NewUpstreamClient(cfg UpstreamConfig) *UpstreamClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 32
	}
	transport := &http.Transport{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &UpstreamClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxNetTries: 3,
	}
}

// Do sends a signed request. The response body is the caller's to close.
func (c *UpstreamClient) Do(ctx context.Context, signed *SignedRequest) (*http.Response, error) {
	op := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, signed.Method, signed.URL, bytes.NewReader(signed.Body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, vs := range signed.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			// Transport-level failure; worth another connection attempt.
			return nil, err
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.maxNetTries),
	)
}
