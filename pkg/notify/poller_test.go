package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type liveState struct {
	Live bool `json:"live"`
}

type fakeFeed struct {
	mu        sync.Mutex
	keys      []string
	states    map[string]liveState
	block     map[string]bool
	failing   map[string]bool
	announced []string
	failNext  map[string]bool
}

func newFakeFeed(keys ...string) *fakeFeed {
	return &fakeFeed{
		keys:     keys,
		states:   map[string]liveState{},
		block:    map[string]bool{},
		failing:  map[string]bool{},
		failNext: map[string]bool{},
	}
}

func (f *fakeFeed) set(key string, live bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[key] = liveState{Live: live}
}

func (f *fakeFeed) hooks() Hooks[liveState, string] {
	return Hooks[liveState, string]{
		Keys: func(ctx context.Context) ([]string, error) {
			return f.keys, nil
		},
		Fetch: func(ctx context.Context, key string) (liveState, error) {
			f.mu.Lock()
			block := f.block[key]
			fail := f.failing[key]
			s := f.states[key]
			f.mu.Unlock()

			if block {
				// ignores ctx on purpose
				time.Sleep(time.Second)
			}
			if fail {
				return liveState{}, errors.New("upstream error")
			}
			return s, nil
		},
		Diff: func(key string, prev, next liveState) []string {
			if !prev.Live && next.Live {
				return []string{key + " went live"}
			}
			return nil
		},
		Announce: func(ctx context.Context, key string, ev string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failNext[key] {
				delete(f.failNext, key)
				return errors.New("gateway down")
			}
			f.announced = append(f.announced, ev)
			return nil
		},
	}
}

func (f *fakeFeed) announcements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.announced...)
}

type memStore struct {
	data map[string]json.RawMessage
}

func (m *memStore) Load() (map[string]json.RawMessage, error) { return m.data, nil }
func (m *memStore) Save(d map[string]json.RawMessage) error {
	m.data = d
	return nil
}

func newTestPoller(t *testing.T, f *fakeFeed, store SnapshotStore) *Poller[liveState, string] {
	t.Helper()
	p, err := New[liveState, string](Config{
		Name:         "test",
		Interval:     time.Minute,
		Concurrency:  2,
		FetchTimeout: 50 * time.Millisecond,
	}, zap.NewNop(), clockwork.NewFakeClock(), f.hooks(), store)
	require.NoError(t, err)
	return p
}

func TestPoller_SeedThenAnnounce(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed("a")
	f.set("a", false)
	p := newTestPoller(t, f, nil)
	require.Equal(t, Uninitialized, p.State())

	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seeded)
	assert.Equal(t, Initialized, p.State())
	assert.Empty(t, f.announcements())

	f.set("a", true)
	res, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Announced)
	assert.Equal(t, []string{"a went live"}, f.announcements())
	assert.Equal(t, liveState{Live: true}, p.Baseline()["a"])
	assert.Equal(t, Polling, p.State())

	res, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Announced)
	assert.Len(t, f.announcements(), 1)
}

func TestPoller_SeedingWithLiveChannelIsSilent(t *testing.T) {
	f := newFakeFeed("a", "b")
	f.set("a", true)
	f.set("b", true)
	p := newTestPoller(t, f, nil)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Seeded)
	assert.Empty(t, f.announcements())
}

func TestPoller_TimeoutIsolatesKey(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed("a", "b")
	f.set("a", false)
	f.set("b", false)
	p := newTestPoller(t, f, nil)

	_, err := p.Poll(ctx)
	require.NoError(t, err)

	f.set("a", true)
	f.set("b", true)
	f.mu.Lock()
	f.block["b"] = true
	f.mu.Unlock()

	start := time.Now()
	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Announced)
	assert.Equal(t, []string{"a went live"}, f.announcements())

	baseline := p.Baseline()
	assert.Equal(t, liveState{Live: true}, baseline["a"])
	assert.Equal(t, liveState{Live: false}, baseline["b"])

	f.mu.Lock()
	f.block["b"] = false
	f.mu.Unlock()

	_, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a went live", "b went live"}, f.announcements())
}

func TestPoller_ConcurrencyBounded(t *testing.T) {
	var inFlight, peak int32
	hooks := Hooks[liveState, string]{
		Keys: func(ctx context.Context) ([]string, error) {
			return []string{"a", "b", "c", "d"}, nil
		},
		Fetch: func(ctx context.Context, key string) (liveState, error) {
			n := atomic.AddInt32(&inFlight, 1)
			defer atomic.AddInt32(&inFlight, -1)
			for {
				seen := atomic.LoadInt32(&peak)
				if n <= seen || atomic.CompareAndSwapInt32(&peak, seen, n) {
					break
				}
			}
			// outlives the fetch timeout and ignores ctx
			time.Sleep(100 * time.Millisecond)
			return liveState{}, nil
		},
		Diff: func(key string, prev, next liveState) []string { return nil },
		Announce: func(ctx context.Context, key string, ev string) error { return nil },
	}

	p, err := New[liveState, string](Config{
		Name:         "bounded",
		Concurrency:  1,
		FetchTimeout: 20 * time.Millisecond,
	}, zap.NewNop(), clockwork.NewFakeClock(), hooks, nil)
	require.NoError(t, err)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Failed)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&inFlight) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestPoller_FetchErrorKeepsBaseline(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed("a")
	f.set("a", false)
	p := newTestPoller(t, f, nil)

	_, err := p.Poll(ctx)
	require.NoError(t, err)

	f.set("a", true)
	f.mu.Lock()
	f.failing["a"] = true
	f.mu.Unlock()

	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, liveState{Live: false}, p.Baseline()["a"])
	assert.Empty(t, f.announcements())
}

func TestPoller_FailedAnnouncementIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed("a")
	f.set("a", false)
	p := newTestPoller(t, f, nil)

	_, err := p.Poll(ctx)
	require.NoError(t, err)

	f.set("a", true)
	f.mu.Lock()
	f.failNext["a"] = true
	f.mu.Unlock()

	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Announced)
	assert.Equal(t, liveState{Live: false}, p.Baseline()["a"])

	res, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Announced)
	assert.Equal(t, []string{"a went live"}, f.announcements())
}

func TestPoller_NewKeyIsSeeded(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed("a")
	f.set("a", false)
	p := newTestPoller(t, f, nil)

	_, err := p.Poll(ctx)
	require.NoError(t, err)

	f.keys = []string{"a", "c"}
	f.set("c", true)
	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seeded)
	assert.Empty(t, f.announcements())

	f.keys = []string{"c"}
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	_, tracked := p.Baseline()["a"]
	assert.False(t, tracked)
}

func TestPoller_PersistedBaseline(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	f := newFakeFeed("a")
	f.set("a", false)

	p := newTestPoller(t, f, store)
	_, err := p.Poll(ctx)
	require.NoError(t, err)
	require.Contains(t, store.data, "a")

	f.set("a", true)
	restarted := newTestPoller(t, f, store)
	assert.Equal(t, Polling, restarted.State())

	res, err := restarted.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Announced)
}

func TestPoller_RunTicks(t *testing.T) {
	f := newFakeFeed("a")
	f.set("a", false)
	clock := clockwork.NewFakeClock()
	p, err := New[liveState, string](Config{Name: "run", Interval: time.Minute}, zap.NewNop(), clock, f.hooks(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.State() == Initialized }, time.Second, 5*time.Millisecond)

	f.set("a", true)
	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return len(f.announcements()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestNew_RequiresHooks(t *testing.T) {
	_, err := New[liveState, string](Config{Name: "x"}, zap.NewNop(), nil, Hooks[liveState, string]{}, nil)
	require.Error(t, err)
}
