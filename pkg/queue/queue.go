package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/charon/pkg/keypool"
	"mercator-hq/charon/pkg/models"
)

// DefaultTickInterval is the dispatcher's fallback wake-up period. Kicks
// from enqueues, completions and key-state changes wake it sooner.
const DefaultTickInterval = 100 * time.Millisecond

// ErrQueueClosed is returned by Enqueue after Stop.
var ErrQueueClosed = errors.New("admission queue is closed")

// Grant delivers a dispatched key to a waiting request.
type Grant struct {
	// Key is the credential chosen for this attempt.
	Key keypool.Key

	// Waited is how long the request sat in its partition.
	Waited time.Duration
}

// Config tunes the queue.
type Config struct {
	// TickInterval is the dispatcher's periodic wake-up, at most 100ms.
	TickInterval time.Duration

	// UpstreamRPS caps dispatches per second per service. Zero disables
	// pacing.
	UpstreamRPS float64

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type partitionKey struct {
	svc models.Service
	fam models.Family
}

// ticket is one queued request.
type ticket struct {
	ctx      context.Context
	model    string
	ch       chan Grant
	enqueued time.Time
}

// partition is one (service, family) FIFO plus its wait-time ring and
// inflight count. Each partition has an independent lock.
type partition struct {
	mu       sync.Mutex
	items    []*ticket
	waits    waitRing
	inflight int
}

// Queue is the process-wide admission queue. Construct once at startup with
// New and share across request handlers.
type Queue struct {
	pool   *keypool.Pool
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	partitions map[partitionKey]*partition
	order      []partitionKey
	rrIndex    int
	closed     bool

	limiterMu sync.Mutex
	limiters  map[models.Service]*rate.Limiter

	kick chan struct{}
	done chan struct{}
}

// New creates the queue. The dispatcher does not run until Start.
func New(pool *keypool.Pool, cfg Config) *Queue {
	if cfg.TickInterval <= 0 || cfg.TickInterval > DefaultTickInterval {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	q := &Queue{
		pool:       pool,
		cfg:        cfg,
		logger:     slog.Default().With("component", "queue"),
		partitions: make(map[partitionKey]*partition),
		limiters:   make(map[models.Service]*rate.Limiter),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	// Key-state updates (including recheck results) may free capacity.
	pool.OnChange(func(models.Service, models.Family) { q.Kick() })
	return q
}

// Enqueue appends a request to its partition's tail and returns the channel
// its Grant will arrive on. The channel is closed without a Grant when no
// key in the pool can ever serve the partition.
//
// If ctx is cancelled while queued, the dispatcher drops the request when it
// reaches the head.
func (q *Queue) Enqueue(ctx context.Context, svc models.Service, fam models.Family, model string) (<-chan Grant, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	key := partitionKey{svc, fam}
	p := q.partitions[key]
	if p == nil {
		p = &partition{}
		q.partitions[key] = p
		q.order = append(q.order, key)
	}
	q.mu.Unlock()

	t := &ticket{
		ctx:      ctx,
		model:    model,
		ch:       make(chan Grant, 1),
		enqueued: q.cfg.Now(),
	}
	p.mu.Lock()
	p.items = append(p.items, t)
	depth := len(p.items)
	p.mu.Unlock()

	q.logger.Debug("request queued", "service", svc, "family", fam, "depth", depth)
	q.Kick()
	return t.ch, nil
}

// Kick wakes the dispatcher. Safe to call from any goroutine; coalesces.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// OnComplete records that a dispatched request finished its upstream
// attempt, freeing its inflight slot and waking the dispatcher.
func (q *Queue) OnComplete(svc models.Service, fam models.Family) {
	if p := q.partition(svc, fam); p != nil {
		p.mu.Lock()
		if p.inflight > 0 {
			p.inflight--
		}
		p.mu.Unlock()
	}
	q.Kick()
}

// Start runs the dispatcher loop until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case <-q.done:
			q.drain()
			return
		case <-ticker.C:
		case <-q.kick:
		}
		q.dispatchRound()
	}
}

// Stop closes the queue: queued requests are failed and new enqueues
// rejected.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// drain fails every queued ticket by closing its channel.
func (q *Queue) drain() {
	q.mu.Lock()
	parts := make([]*partition, 0, len(q.partitions))
	for _, p := range q.partitions {
		parts = append(parts, p)
	}
	q.mu.Unlock()
	for _, p := range parts {
		p.mu.Lock()
		for _, t := range p.items {
			close(t.ch)
		}
		p.items = nil
		p.mu.Unlock()
	}
}

// dispatchRound visits every non-empty partition once, starting after the
// last partition served, and dispatches as many heads as key availability
// allows.
func (q *Queue) dispatchRound() {
	q.mu.Lock()
	order := append([]partitionKey(nil), q.order...)
	start := q.rrIndex
	if len(order) > 0 {
		q.rrIndex = (q.rrIndex + 1) % len(order)
	}
	q.mu.Unlock()

	for i := range order {
		key := order[(start+i)%len(order)]
		q.dispatchPartition(key)
	}
}

// dispatchPartition pops and serves the partition head while keys remain
// available.
func (q *Queue) dispatchPartition(key partitionKey) {
	p := q.partition(key.svc, key.fam)
	if p == nil {
		return
	}
	for {
		p.mu.Lock()
		// Skip requests cancelled while queued.
		for len(p.items) > 0 && p.items[0].ctx.Err() != nil {
			q.logger.Debug("dropping cancelled request", "service", key.svc, "family", key.fam)
			p.items = p.items[1:]
		}
		if len(p.items) == 0 {
			p.mu.Unlock()
			return
		}
		head := p.items[0]
		p.mu.Unlock()

		// A partition no key can ever serve is refused outright.
		if q.pool.LockoutPeriod(key.svc, key.fam) == keypool.NoLockout {
			p.mu.Lock()
			for _, t := range p.items {
				close(t.ch)
			}
			p.items = nil
			p.mu.Unlock()
			return
		}
		if q.pool.AvailableForFamily(key.svc, key.fam) == 0 {
			return
		}
		if !q.allowDispatch(key.svc) {
			return
		}

		k, err := q.pool.Get(head.model, key.svc)
		if err != nil {
			return
		}

		now := q.cfg.Now()
		waited := now.Sub(head.enqueued)
		p.mu.Lock()
		// The head may have changed while we held no lock; only pop if it is
		// still ours.
		if len(p.items) > 0 && p.items[0] == head {
			p.items = p.items[1:]
		}
		p.waits.record(waited)
		p.inflight++
		p.mu.Unlock()

		head.ch <- Grant{Key: k, Waited: waited}
	}
}

// allowDispatch applies per-service outbound pacing.
func (q *Queue) allowDispatch(svc models.Service) bool {
	if q.cfg.UpstreamRPS <= 0 {
		return true
	}
	q.limiterMu.Lock()
	lim := q.limiters[svc]
	if lim == nil {
		lim = rate.NewLimiter(rate.Limit(q.cfg.UpstreamRPS), int(q.cfg.UpstreamRPS)+1)
		q.limiters[svc] = lim
	}
	q.limiterMu.Unlock()
	return lim.Allow()
}

func (q *Queue) partition(svc models.Service, fam models.Family) *partition {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.partitions[partitionKey{svc, fam}]
}

// Depth reports how many requests are queued in a partition.
func (q *Queue) Depth(svc models.Service, fam models.Family) int {
	p := q.partition(svc, fam)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// EstimatedWait reports the smoothed recent wait for a partition. Zero when
// the partition has no history.
func (q *Queue) EstimatedWait(svc models.Service, fam models.Family) time.Duration {
	p := q.partition(svc, fam)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits.average()
}
