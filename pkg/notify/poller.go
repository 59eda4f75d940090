// Package notify polls external channels, diffs each fresh snapshot against a
// baseline and announces the transitions it finds.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type State int

const (
	Uninitialized State = iota
	Initialized
	Polling
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Polling:
		return "polling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	defaultInterval     = time.Minute
	defaultConcurrency  = 4
	defaultFetchTimeout = 10 * time.Second
)

type Config struct {
	Name         string
	Interval     time.Duration
	Concurrency  int64
	FetchTimeout time.Duration
}

// SnapshotStore persists the baseline between process restarts.
type SnapshotStore interface {
	Load() (map[string]json.RawMessage, error)
	Save(map[string]json.RawMessage) error
}

// KeysFunc lists the keys tracked this cycle.
type KeysFunc func(ctx context.Context) ([]string, error)

type FetchFunc[S any] func(ctx context.Context, key string) (S, error)

// DiffFunc returns the events to announce for a key moving from prev to next.
type DiffFunc[S any, E any] func(key string, prev, next S) []E

type AnnounceFunc[E any] func(ctx context.Context, key string, event E) error

type Hooks[S any, E any] struct {
	Keys     KeysFunc
	Fetch    FetchFunc[S]
	Diff     DiffFunc[S, E]
	Announce AnnounceFunc[E]
}

type CycleResult struct {
	ID        string
	Fetched   int
	Failed    int
	Announced int
	Seeded    int
}

type Poller[S any, E any] struct {
	c     Config
	l     *zap.Logger
	clock clockwork.Clock
	hooks Hooks[S, E]
	store SnapshotStore
	sem   *semaphore.Weighted

	cycleMu sync.Mutex

	mu       sync.RWMutex
	state    State
	baseline map[string]S
}

func (p *Poller[S, E]) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Baseline returns a copy of the current baseline.
func (p *Poller[S, E]) Baseline() map[string]S {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]S, len(p.baseline))
	for k, v := range p.baseline {
		out[k] = v
	}
	return out
}

type fetchResult[S any] struct {
	snap S
	err  error
}

// Poll runs a single cycle. Fetch failures are isolated to their key; only a
// failure to list the keys fails the whole cycle.
func (p *Poller[S, E]) Poll(ctx context.Context) (CycleResult, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	res := CycleResult{ID: uuid.NewV4().String()}
	l := p.l.With(zap.String("cycle_id", res.ID))

	keys, err := p.hooks.Keys(ctx)
	if err != nil {
		return res, fmt.Errorf("poller %s: list keys: %w", p.c.Name, err)
	}

	fresh := p.fetchAll(ctx, keys)

	p.mu.RLock()
	state := p.state
	prev := p.baseline
	p.mu.RUnlock()

	next := make(map[string]S, len(keys))
	for _, key := range keys {
		r := fresh[key]
		old, had := prev[key]

		if r.err != nil {
			res.Failed++
			fetchFailures.WithLabelValues(p.c.Name).Inc()
			l.Warn("fetch failed, skipping this cycle", zap.String("key", key), zap.Error(r.err))
			if had {
				next[key] = old
			}
			continue
		}
		res.Fetched++

		if state == Uninitialized || !had {
			next[key] = r.snap
			res.Seeded++
			continue
		}

		failed := false
		for _, ev := range p.hooks.Diff(key, old, r.snap) {
			if err := p.hooks.Announce(ctx, key, ev); err != nil {
				failed = true
				l.Error("announcement failed", zap.String("key", key), zap.Error(err))
				continue
			}
			res.Announced++
			announcements.WithLabelValues(p.c.Name).Inc()
		}

		if failed {
			next[key] = old
		} else {
			next[key] = r.snap
		}
	}

	p.mu.Lock()
	p.baseline = next
	switch p.state {
	case Uninitialized:
		p.state = Initialized
	case Initialized:
		p.state = Polling
	}
	p.mu.Unlock()

	if err := p.persist(next); err != nil {
		l.Error("error persisting baseline", zap.Error(err))
	}

	pollCycles.WithLabelValues(p.c.Name).Inc()
	l.Debug("poll cycle complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("failed", res.Failed),
		zap.Int("announced", res.Announced),
		zap.Int("seeded", res.Seeded),
	)

	return res, nil
}

func (p *Poller[S, E]) fetchAll(ctx context.Context, keys []string) map[string]fetchResult[S] {
	out := make(map[string]fetchResult[S], len(keys))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, key := range keys {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			out[key] = fetchResult[S]{err: &FetchError{Key: key, Err: err}}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()

			r := p.fetchOne(ctx, key)
			mu.Lock()
			out[key] = r
			mu.Unlock()
		}(key)
	}

	wg.Wait()
	return out
}

// fetchOne stops waiting on a fetch that outlives its timeout, even if it ignores its context.
// The caller's semaphore slot stays held until the fetch itself returns.
func (p *Poller[S, E]) fetchOne(ctx context.Context, key string) fetchResult[S] {
	fctx, cancel := context.WithTimeout(ctx, p.c.FetchTimeout)
	defer cancel()

	done := make(chan fetchResult[S], 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult[S]{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		snap, err := p.hooks.Fetch(fctx, key)
		done <- fetchResult[S]{snap: snap, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			r.err = &FetchError{Key: key, Err: r.err}
		}
		return r
	case <-fctx.Done():
		return fetchResult[S]{err: &FetchError{Key: key, Err: fctx.Err()}}
	}
}

func (p *Poller[S, E]) persist(baseline map[string]S) error {
	if p.store == nil {
		return nil
	}

	raw := make(map[string]json.RawMessage, len(baseline))
	for k, v := range baseline {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw[k] = b
	}

	return p.store.Save(raw)
}

func (p *Poller[S, E]) restore() error {
	if p.store == nil {
		return nil
	}

	raw, err := p.store.Load()
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	baseline := make(map[string]S, len(raw))
	for k, v := range raw {
		var s S
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("decode baseline for %s: %w", k, err)
		}
		baseline[k] = s
	}

	p.baseline = baseline
	p.state = Polling
	return nil
}

// Run polls immediately and then on every tick until ctx is done.
func (p *Poller[S, E]) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.c.Interval)
	defer ticker.Stop()

	p.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.l.Info("poller stopped")
			return
		case <-ticker.Chan():
			p.runCycle(ctx)
		}
	}
}

func (p *Poller[S, E]) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.l.Error("panic in poll cycle", zap.Any("panic", r))
		}
	}()

	if _, err := p.Poll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.l.Error("poll cycle failed", zap.Error(err))
	}
}

func New[S any, E any](c Config, l *zap.Logger, clock clockwork.Clock, hooks Hooks[S, E], store SnapshotStore) (*Poller[S, E], error) {
	if hooks.Keys == nil || hooks.Fetch == nil || hooks.Diff == nil || hooks.Announce == nil {
		return nil, errors.New("notify: all poller hooks are required")
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	initMetrics()

	p := &Poller[S, E]{
		c:     c,
		l:     l.Named("poller-" + c.Name),
		clock: clock,
		hooks: hooks,
		store: store,
		sem:   semaphore.NewWeighted(c.Concurrency),
		state: Uninitialized,
	}

	if err := p.restore(); err != nil {
		p.l.Warn("ignoring persisted baseline", zap.Error(err))
		p.baseline = nil
		p.state = Uninitialized
	}

	return p, nil
}
