package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheSetPeekDelete(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxEntries: 10}, MetricsHooks{})

	c.Set("alpha", "value", time.Minute)
	if val, ok := c.Peek("alpha"); !ok || val != "value" {
		t.Fatalf("expected peeked value")
	}
	if c.Len() != 1 {
		t.Fatalf("expected one entry, got %d", c.Len())
	}

	c.Delete("alpha")
	if _, ok := c.Peek("alpha"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestCacheGetHitMissExpiry(t *testing.T) {
	c := New[int](Options{TTL: time.Minute}, MetricsHooks{})
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	calls := 0
	loader := func(_ context.Context, _ string) (int, bool, error) {
		calls++
		return calls, true, nil
	}

	val, ok, err := c.Get(context.Background(), "alpha", loader)
	if err != nil || !ok || val != 1 {
		t.Fatalf("expected first load, got %d %v %v", val, ok, err)
	}
	val, _, _ = c.Get(context.Background(), "alpha", loader)
	if val != 1 || calls != 1 {
		t.Fatalf("expected cache hit, got %d after %d calls", val, calls)
	}

	now = now.Add(time.Minute)
	val, _, _ = c.Get(context.Background(), "alpha", loader)
	if val != 2 {
		t.Fatalf("expected reload after expiry, got %d", val)
	}
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	c := New[string](Options{TTL: time.Minute}, MetricsHooks{})

	var calls int32
	release := make(chan struct{})
	loader := func(_ context.Context, _ string) (string, bool, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "v", true, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, ok, _ := c.Get(context.Background(), "k", loader); !ok || v != "v" {
				t.Errorf("unexpected result %q %v", v, ok)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one loader call, got %d", got)
	}
}

func TestCacheNegativeTTL(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, NegativeTTL: 30 * time.Second}, MetricsHooks{})
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	calls := 0
	errBoom := errors.New("boom")
	loader := func(_ context.Context, _ string) (string, bool, error) {
		calls++
		return "", false, errBoom
	}

	if _, ok, err := c.Get(context.Background(), "neg", loader); ok || !errors.Is(err, errBoom) {
		t.Fatalf("expected negative load error")
	}
	if _, ok, err := c.Get(context.Background(), "neg", loader); ok || !errors.Is(err, errBoom) {
		t.Fatalf("expected cached negative error")
	}
	if calls != 1 {
		t.Fatalf("expected single loader call, got %d", calls)
	}

	now = now.Add(31 * time.Second)
	_, _, _ = c.Get(context.Background(), "neg", loader)
	if calls != 2 {
		t.Fatalf("expected loader to run after negative ttl, got %d calls", calls)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	var evictions int32
	c := New[string](Options{TTL: time.Minute, MaxEntries: 2}, MetricsHooks{
		OnEvict: func() { atomic.AddInt32(&evictions, 1) },
	})

	c.Set("first", "one", time.Minute)
	c.Set("second", "two", time.Minute)
	// touching first makes second the least recently used
	if _, ok := c.Peek("first"); !ok {
		t.Fatalf("expected first entry")
	}
	c.Set("third", "three", time.Minute)

	if _, ok := c.Peek("second"); ok {
		t.Fatalf("expected second entry to be evicted")
	}
	if _, ok := c.Peek("first"); !ok {
		t.Fatalf("expected first entry to remain")
	}
	if _, ok := c.Peek("third"); !ok {
		t.Fatalf("expected third entry to remain")
	}
	if atomic.LoadInt32(&evictions) != 1 {
		t.Fatalf("expected one eviction, got %d", evictions)
	}
}
