package keypool

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"mercator-hq/charon/pkg/models"
)

// recheckConcurrency bounds how many credentials one sweep validates at once.
const recheckConcurrency = 4

// CheckFunc validates a single credential against its provider. It returns a
// patch to merge into the key, or an error when the check itself failed (the
// key is left untouched on check failure).
type CheckFunc func(ctx context.Context, k Key) (Patch, error)

// Rechecker runs scheduled per-service credential sweeps. A sweep clears
// transient flags, restores model families, and disables credentials the
// provider now rejects.
type Rechecker struct {
	pool     *Pool
	cron     *cron.Cron
	client   *http.Client
	checkers map[models.Service]CheckFunc
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// recheckSchedules holds the cron expression per service. The minute field
// is offset per host (see hostOffset) so a fleet does not hammer providers
// simultaneously.
var recheckSchedules = map[models.Service]string{
	models.ServiceOpenAI:   "%d */8 * * *",
	models.ServiceGoogleAI: "%d * * * *",
	models.ServiceMistralAI: "%d */6 * * *",
	models.ServiceDeepseek: "%d */6 * * *",
}

// hostOffset derives a stable 0-59 minute offset from the hostname, so
// rechecks across a fleet are decorrelated.
func hostOffset() int {
	host, err := os.Hostname()
	if err != nil {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(host))
	return int(h.Sum32() % 60)
}

// NewRechecker builds a rechecker with the default HTTP checkers.
func NewRechecker(pool *Pool) *Rechecker {
	r := &Rechecker{
		pool:   pool,
		cron:   cron.New(),
		client: &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default().With("component", "keypool.rechecker"),
	}
	r.checkers = map[models.Service]CheckFunc{
		models.ServiceOpenAI:    r.checkBearer("https://api.openai.com/v1/models"),
		models.ServiceGoogleAI:  r.checkGoogleAI,
		models.ServiceMistralAI: r.checkBearer("https://api.mistral.ai/v1/models"),
		models.ServiceDeepseek:  r.checkBearer("https://api.deepseek.com/v1/models"),
	}
	return r
}

// Start registers the cron entries and begins sweeping. It is a no-op when
// called twice.
func (r *Rechecker) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	offset := hostOffset()
	for svc, tmpl := range recheckSchedules {
		svc := svc
		spec := fmt.Sprintf(tmpl, offset)
		if _, err := r.cron.AddFunc(spec, func() { r.sweep(ctx, svc) }); err != nil {
			return fmt.Errorf("failed to schedule recheck for %s: %w", svc, err)
		}
	}
	r.cron.Start()
	r.running = true
	r.logger.Info("key rechecker started", "minute_offset", offset)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the cron scheduler.
func (r *Rechecker) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}

// sweep validates every key of one service, a few at a time.
func (r *Rechecker) sweep(ctx context.Context, svc models.Service) {
	check := r.checkers[svc]
	if check == nil {
		return
	}
	keys := r.pool.List(svc)
	r.logger.Info("rechecking keys", "service", svc, "count", len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recheckConcurrency)
	for _, k := range keys {
		k := k
		if k.IsRevoked {
			continue
		}
		g.Go(func() error {
			patch, err := check(gctx, k)
			if err != nil {
				r.logger.Warn("key recheck failed", "service", svc, "key", k.Hash, "error", err)
				return nil
			}
			now := r.pool.cfg.Now()
			patch.LastChecked = &now
			r.pool.Update(svc, k.Hash, patch)
			return nil
		})
	}
	g.Wait()
}

// checkBearer validates a bearer-token credential by listing models.
func (r *Rechecker) checkBearer(url string) CheckFunc {
	return func(ctx context.Context, k Key) (Patch, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Patch{}, err
		}
		req.Header.Set("Authorization", "Bearer "+k.Secret)
		resp, err := r.client.Do(req)
		if err != nil {
			return Patch{}, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			r.pool.Disable(k, ReasonRevoked)
			return Patch{}, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			r.pool.MarkRateLimited(k)
			return Patch{}, nil
		case resp.StatusCode >= 500:
			return Patch{}, fmt.Errorf("provider returned %d", resp.StatusCode)
		}
		// Credential is live again: clear transient quota state and restore
		// the full family set.
		fams := models.FamiliesForService(k.Service)
		return Patch{
			IsOverQuota:       Bool(false),
			ModelFamilies:     &fams,
			OverQuotaFamilies: Families(),
		}, nil
	}
}

// checkGoogleAI validates a Google AI key via the models list endpoint,
// which authenticates with a query parameter rather than a header.
func (r *Rechecker) checkGoogleAI(ctx context.Context, k Key) (Patch, error) {
	url := "https://generativelanguage.googleapis.com/v1beta/models?key=" + k.Secret
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Patch{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Patch{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden:
		r.pool.Disable(k, ReasonRevoked)
		return Patch{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		r.pool.MarkRateLimited(k)
		return Patch{}, nil
	case resp.StatusCode >= 500:
		return Patch{}, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	fams := models.FamiliesForService(k.Service)
	return Patch{
		IsOverQuota:       Bool(false),
		ModelFamilies:     &fams,
		OverQuotaFamilies: Families(),
	}, nil
}
