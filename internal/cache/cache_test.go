package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryForecastCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryForecastCache()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(got) != `{"a":1}` {
		t.Fatalf("unexpected hit: %q %v %v", got, ok, err)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryForecastCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryForecastCache()
	value := []byte("abc")
	_ = c.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, ok, _ := c.Get(ctx, "k")
	if !ok || string(got) != "abc" {
		t.Fatalf("expected stored copy, got %q", got)
	}
}

func TestNoopForecastCacheNeverHits(t *testing.T) {
	var c ForecastCache = NoopForecastCache{}
	_ = c.Set(context.Background(), "k", []byte("v"), time.Hour)
	if _, ok, err := c.Get(context.Background(), "k"); ok || err != nil {
		t.Fatalf("noop cache should miss")
	}
}
