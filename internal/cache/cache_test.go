// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := New(time.Minute, 0)

	c.Set("key1", "value1")
	got, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected cache hit for key1")
	}
	if got.(string) != "value1" {
		t.Errorf("got %v, want value1", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected cache miss for missing key")
	}
}

func TestCacheExpiration(t *testing.T) {
	c := New(10*time.Millisecond, 0)

	c.Set("ephemeral", 42)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("ephemeral"); ok {
		t.Error("expected entry to expire")
	}

	stats := c.GetStats()
	if stats.Evictions == 0 {
		t.Error("expected eviction to be recorded for expired entry")
	}
}

func TestCacheSetWithTTL(t *testing.T) {
	c := New(10*time.Millisecond, 0)

	c.SetWithTTL("durable", "v", time.Hour)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("durable"); !ok {
		t.Error("expected custom-TTL entry to survive the default TTL")
	}
}

func TestCacheSizeBound(t *testing.T) {
	c := New(time.Minute, 5)

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("key%d", i), i)
	}

	stats := c.GetStats()
	if stats.TotalKeys > 5 {
		t.Errorf("cache holds %d keys, bound is 5", stats.TotalKeys)
	}
	if stats.Evictions == 0 {
		t.Error("expected evictions when exceeding the bound")
	}
}

func TestCacheSweep(t *testing.T) {
	c := New(10*time.Millisecond, 0)

	c.Set("a", 1)
	c.Set("b", 2)
	c.SetWithTTL("c", 3, time.Hour)
	time.Sleep(20 * time.Millisecond)

	evicted := c.Sweep()
	if evicted != 2 {
		t.Errorf("Sweep() evicted %d entries, want 2", evicted)
	}

	stats := c.GetStats()
	if stats.TotalKeys != 1 {
		t.Errorf("TotalKeys = %d after sweep, want 1", stats.TotalKeys)
	}
}

func TestCacheClear(t *testing.T) {
	c := New(time.Minute, 0)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if _, ok := c.Get("a"); ok {
		t.Error("expected cache to be empty after Clear")
	}
	if stats := c.GetStats(); stats.TotalKeys != 0 {
		t.Errorf("TotalKeys = %d after Clear, want 0", stats.TotalKeys)
	}
}

func TestCacheHitRate(t *testing.T) {
	c := New(time.Minute, 0)

	if rate := c.HitRate(); rate != 0.0 {
		t.Errorf("empty cache hit rate = %f, want 0", rate)
	}

	c.Set("key", "v")
	c.Get("key")    // hit
	c.Get("absent") // miss

	if rate := c.HitRate(); rate != 50.0 {
		t.Errorf("hit rate = %f, want 50", rate)
	}
}

func TestGenerateKey(t *testing.T) {
	type params struct {
		Provider string
		ID       string
	}

	k1 := GenerateKey("resolve", params{"archive", "frankenstein00"})
	k2 := GenerateKey("resolve", params{"archive", "frankenstein00"})
	k3 := GenerateKey("resolve", params{"archive", "dracula"})

	if k1 != k2 {
		t.Error("identical params should produce identical keys")
	}
	if k1 == k3 {
		t.Error("different params should produce different keys")
	}
	if k1 == GenerateKey("access", params{"archive", "frankenstein00"}) {
		t.Error("different operations should produce different keys")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(time.Minute, 0)
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key%d", j%10)
				c.Set(key, n)
				c.Get(key)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
