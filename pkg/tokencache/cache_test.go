package tokencache

import (
	"testing"
	"time"
)

func TestCacheHitAndInvalidate(t *testing.T) {
	c := New(4, time.Minute)
	c.Insert("tok1", Principal{UserID: "1", Login: "alice"})

	p, ok := c.Get("tok1")
	if !ok || p.Login != "alice" {
		t.Fatalf("expected cache hit for alice, got %+v ok=%v", p, ok)
	}

	c.Invalidate("tok1")
	if _, ok := c.Get("tok1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(4, 10*time.Millisecond)
	c.Insert("tok1", Principal{Login: "alice"})

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("tok1"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := New(2, time.Minute)
	c.Insert("a", Principal{Login: "a"})
	c.Insert("b", Principal{Login: "b"})
	c.Insert("c", Principal{Login: "c"})

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry evicted once capacity exceeded")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected most recent entry to remain cached")
	}
}

func TestNullCacheAlwaysMisses(t *testing.T) {
	var c NullCache
	c.Insert("tok1", Principal{Login: "alice"})
	if _, ok := c.Get("tok1"); ok {
		t.Fatal("expected NullCache to always miss")
	}
}
