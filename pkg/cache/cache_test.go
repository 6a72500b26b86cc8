package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTTLExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := New[string, int](time.Second, 0)
	defer c.Close()
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	now = now.Add(time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected expiry at ttl")
	}
	c.purge()
	if c.Len() != 0 {
		t.Fatalf("purge should drop expired items, len=%d", c.Len())
	}

	c.Set("b", 2)
	c.Delete("b")
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestGetOrLoadSharesConcurrentMiss(t *testing.T) {
	c := New[string, int](time.Minute, 0)
	defer c.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", load)
			if err != nil {
				t.Errorf("load: %v", err)
			}
			results[i] = v
		}(i)
	}
	// 等第一个调用方进入 loader
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("loader called %d times, want 1", calls.Load())
	}
	for _, v := range results {
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	}
	if v, ok := c.Get("k"); !ok || v != 42 {
		t.Fatalf("result should be cached")
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New[string, int](time.Minute, 0)
	defer c.Close()

	boom := errors.New("boom")
	if _, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("second load = %d, %v", v, err)
	}
}
