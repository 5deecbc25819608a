package keypool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/charon/pkg/models"
)

// Default timing constants. KeyReuseDelay prevents the dispatcher from
// handing the same key to several requests back to back; RateLimitLockout is
// the window a key sits out after an upstream 429.
const (
	DefaultKeyReuseDelay    = 500 * time.Millisecond
	DefaultRateLimitLockout = 2 * time.Second
)

// NoLockout is returned by LockoutPeriod when no key owns the family; the
// dispatcher treats it as "never dispatch".
const NoLockout = time.Duration(1<<63 - 1)

// ErrNoKeysAvailable is returned by Get when the eligible set is empty.
type ErrNoKeysAvailable struct {
	Service models.Service
	Family  models.Family
}

func (e *ErrNoKeysAvailable) Error() string {
	return fmt.Sprintf("no keys available for service %q family %q", e.Service, e.Family)
}

// Config tunes pool behavior.
type Config struct {
	// ReuseDelay is the forced jitter applied to a key on every Get.
	ReuseDelay time.Duration

	// RateLimitLockout is the default sit-out window after MarkRateLimited.
	RateLimitLockout time.Duration

	// ServiceLockouts overrides RateLimitLockout per service.
	ServiceLockouts map[models.Service]time.Duration

	// AllowAWSLogging permits dispatch to AWS keys whose invocation logging
	// is confirmed enabled. When false only those keys are excluded; keys
	// whose logging status is "unknown" are dispatched either way.
	AllowAWSLogging bool

	// Now is the clock; defaults to time.Now. Injected for tests.
	Now func() time.Time
}

// store is one per-service registry. All mutations on a service's keys are
// serialized through its mutex.
type store struct {
	mu   sync.Mutex
	keys map[string]*Key
}

// Pool is the process-wide credential pool. Construct with New at startup
// and thread through request handlers; there is no package-level instance.
type Pool struct {
	cfg    Config
	stores map[models.Service]*store

	listenerMu sync.RWMutex
	listeners  []func(models.Service, models.Family)

	logger *slog.Logger
}

// New creates an empty pool.
func New(cfg Config) *Pool {
	if cfg.ReuseDelay == 0 {
		cfg.ReuseDelay = DefaultKeyReuseDelay
	}
	if cfg.RateLimitLockout == 0 {
		cfg.RateLimitLockout = DefaultRateLimitLockout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Pool{
		cfg:    cfg,
		stores: make(map[models.Service]*store, len(models.AllServices)),
		logger: slog.Default().With("component", "keypool"),
	}
	for _, svc := range models.AllServices {
		p.stores[svc] = &store{keys: make(map[string]*Key)}
	}
	return p
}

// OnChange registers a callback invoked whenever Update merges a patch into a
// key, which may have made more capacity available; recheck results arrive
// through Update. Add does not invoke it. The dispatcher hangs its kick off
// this.
func (p *Pool) OnChange(fn func(models.Service, models.Family)) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Pool) notify(svc models.Service, fam models.Family) {
	p.listenerMu.RLock()
	defer p.listenerMu.RUnlock()
	for _, fn := range p.listeners {
		fn(svc, fam)
	}
}

// Add inserts a credential. Existing hashes are left untouched (idempotent
// re-load). Returns the key's hash.
func (p *Pool) Add(k Key) string {
	if k.Hash == "" {
		k.Hash = HashSecret(k.Service, k.Secret)
	}
	if len(k.ModelFamilies) == 0 {
		k.ModelFamilies = models.FamiliesForService(k.Service)
	}
	if k.TokenUsage == nil {
		k.TokenUsage = make(map[models.Family]*FamilyUsage)
	}
	if k.Service == models.ServiceAnthropic && !k.AllowsMultimodality {
		// Multimodality is assumed until a 403 proves otherwise.
		k.AllowsMultimodality = true
	}
	s := p.stores[k.Service]
	if s == nil {
		p.logger.Warn("dropping key for unknown service", "service", k.Service)
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[k.Hash]; exists {
		return k.Hash
	}
	kc := k.clone()
	s.keys[k.Hash] = &kc
	return k.Hash
}

// Get returns a value copy of the least-recently-used eligible key for the
// model on the given service. On success the underlying record's LastUsed is
// set to now and its rate-limit window is pushed forward by the reuse delay.
func (p *Pool) Get(model string, svc models.Service) (Key, error) {
	fam, ok := models.ResolveForService(model, svc)
	if !ok {
		return Key{}, &ErrNoKeysAvailable{Service: svc, Family: ""}
	}
	s := p.stores[svc]
	now := p.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Key
	for _, k := range s.keys {
		if !k.eligible(fam, now) {
			continue
		}
		if svc == models.ServiceAWS && !p.cfg.AllowAWSLogging && k.AWSLoggingStatus == "enabled" {
			continue
		}
		if best == nil {
			best = k
			continue
		}
		// LRU by LastUsed; ties broken by hash order so selection is
		// deterministic under test.
		if k.LastUsed.Before(best.LastUsed) ||
			(k.LastUsed.Equal(best.LastUsed) && k.Hash < best.Hash) {
			best = k
		}
	}
	if best == nil {
		return Key{}, &ErrNoKeysAvailable{Service: svc, Family: fam}
	}

	best.LastUsed = now
	best.PromptCount++
	if reuse := now.Add(p.cfg.ReuseDelay); reuse.After(best.RateLimitedUntil) {
		best.RateLimitedUntil = reuse
	}
	return best.clone(), nil
}

// MarkRateLimited opens the rate-limit window on a key after an upstream 429.
func (p *Pool) MarkRateLimited(k Key) {
	lockout := p.cfg.RateLimitLockout
	if d, ok := p.cfg.ServiceLockouts[k.Service]; ok {
		lockout = d
	}
	s := p.stores[k.Service]
	now := p.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[k.Hash]
	if !ok {
		return
	}
	rec.RateLimitedAt = now
	rec.RateLimitedUntil = now.Add(lockout)
	p.logger.Debug("key rate limited",
		"service", k.Service,
		"key", k.Hash,
		"until", rec.RateLimitedUntil,
	)
}

// Disable removes a key from rotation. Revocation is terminal and implies
// disabled; quota exhaustion keeps the credential marked valid.
func (p *Pool) Disable(k Key, reason DisableReason) {
	s := p.stores[k.Service]
	s.mu.Lock()
	changed := false
	if rec, ok := s.keys[k.Hash]; ok && !rec.IsDisabled {
		rec.IsDisabled = true
		rec.IsRevoked = reason == ReasonRevoked
		rec.IsOverQuota = reason == ReasonQuota
		changed = true
	}
	s.mu.Unlock()
	if changed {
		p.logger.Warn("key disabled", "service", k.Service, "key", k.Hash, "reason", reason)
	}
}

// Update applies a field-wise merge to a key. Unknown hashes are ignored.
// The merge is idempotent.
func (p *Pool) Update(svc models.Service, hash string, patch Patch) {
	s := p.stores[svc]
	s.mu.Lock()
	rec, ok := s.keys[hash]
	if ok {
		patch.apply(rec)
	}
	s.mu.Unlock()
	if ok {
		for _, fam := range models.FamiliesForService(svc) {
			p.notify(svc, fam)
		}
	}
}

// RemoveFamily permanently strips a family from a key (model access loss).
// It is restored only by an explicit recheck.
func (p *Pool) RemoveFamily(svc models.Service, hash string, fam models.Family) {
	s := p.stores[svc]
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[hash]
	if !ok {
		return
	}
	out := rec.ModelFamilies[:0]
	for _, f := range rec.ModelFamilies {
		if f != fam {
			out = append(out, f)
		}
	}
	rec.ModelFamilies = out
	p.logger.Warn("key lost model family", "service", svc, "key", hash, "family", fam)
}

// MarkFamilyOverQuota records per-family quota exhaustion (Google AI).
// The key keeps serving its other families.
func (p *Pool) MarkFamilyOverQuota(svc models.Service, hash string, fam models.Family) {
	s := p.stores[svc]
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[hash]
	if !ok || rec.familyOverQuota(fam) {
		return
	}
	rec.OverQuotaFamilies = append(rec.OverQuotaFamilies, fam)
	p.logger.Warn("key family over quota", "service", svc, "key", hash, "family", fam)
}

// IncrementUsage credits token consumption to a key under the given family.
func (p *Pool) IncrementUsage(svc models.Service, hash string, fam models.Family, input, output int64) {
	s := p.stores[svc]
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[hash]
	if !ok {
		return
	}
	u := rec.TokenUsage[fam]
	if u == nil {
		u = &FamilyUsage{}
		rec.TokenUsage[fam] = u
	}
	u.Input += input
	u.Output += output
}

// Available counts the currently-eligible keys for a model, or for any model
// of the service when model is "all".
func (p *Pool) Available(model string, svc models.Service) int {
	s := p.stores[svc]
	now := p.cfg.Now()

	var fams []models.Family
	if model == "all" {
		fams = models.FamiliesForService(svc)
	} else {
		fam, ok := models.ResolveForService(model, svc)
		if !ok {
			return 0
		}
		fams = []models.Family{fam}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keys {
		for _, fam := range fams {
			if k.eligible(fam, now) {
				n++
				break
			}
		}
	}
	return n
}

// AvailableForFamily counts eligible keys for one (service, family) pair.
func (p *Pool) AvailableForFamily(svc models.Service, fam models.Family) int {
	s := p.stores[svc]
	now := p.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keys {
		if k.eligible(fam, now) {
			if svc == models.ServiceAWS && !p.cfg.AllowAWSLogging && k.AWSLoggingStatus == "enabled" {
				continue
			}
			n++
		}
	}
	return n
}

// LockoutPeriod reports how long the dispatcher must wait before any key can
// serve the family. Zero means a key is ready now. NoLockout means no
// non-disabled key owns the family at all.
func (p *Pool) LockoutPeriod(svc models.Service, fam models.Family) time.Duration {
	s := p.stores[svc]
	now := p.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	min := NoLockout
	for _, k := range s.keys {
		if k.IsDisabled || !k.HasFamily(fam) || k.familyOverQuota(fam) {
			continue
		}
		pending := k.RateLimitedUntil.Sub(now)
		if pending < 0 {
			pending = 0
		}
		if pending < min {
			min = pending
		}
	}
	return min
}

// List returns value copies of every key on a service, ordered by hash.
func (p *Pool) List(svc models.Service) []Key {
	s := p.stores[svc]
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// FamilyStats summarizes key health and usage for one family, for the info
// endpoint.
type FamilyStats struct {
	ActiveKeys    int     `json:"activeKeys"`
	RevokedKeys   int     `json:"revokedKeys"`
	OverQuotaKeys int     `json:"overQuotaKeys"`
	InputTokens   int64   `json:"inputTokens"`
	OutputTokens  int64   `json:"outputTokens"`
	Cost          float64 `json:"cost"`
}

// Stats aggregates per-family key health and token usage across the pool.
func (p *Pool) Stats() map[models.Family]FamilyStats {
	out := make(map[models.Family]FamilyStats)
	for _, svc := range models.AllServices {
		for _, k := range p.List(svc) {
			for _, fam := range models.FamiliesForService(svc) {
				st := out[fam]
				switch {
				case k.IsRevoked && k.HasFamily(fam):
					st.RevokedKeys++
				case (k.IsOverQuota || k.familyOverQuota(fam)) && k.HasFamily(fam):
					st.OverQuotaKeys++
				case !k.IsDisabled && k.HasFamily(fam):
					st.ActiveKeys++
				}
				if u := k.TokenUsage[fam]; u != nil {
					st.InputTokens += u.Input
					st.OutputTokens += u.Output
					st.Cost += models.UsageCost(fam, u.Input, u.Output)
				}
				out[fam] = st
			}
		}
	}
	return out
}
