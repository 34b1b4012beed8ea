package identity

import (
	"testing"

	"github.com/google/uuid"
)

func TestCacheResolve_RefreshesWhenLive(t *testing.T) {
	c := NewCache()
	first := uuid.New()
	second := uuid.New()

	live := map[string]ID{"alice": first}
	r := ResolverFunc(func(name string) (ID, bool) {
		id, ok := live[name]
		return id, ok
	})

	got, ok := c.Resolve(r, "alice")
	if !ok || got != first {
		t.Fatalf("Resolve(alice)=%v,%v want %v", got, ok, first)
	}

	// Name now belongs to a different account while live: cache follows.
	live["alice"] = second
	got, ok = c.Resolve(r, "alice")
	if !ok || got != second {
		t.Fatalf("Resolve after refresh=%v,%v want %v", got, ok, second)
	}
}

func TestCacheResolve_FallsBackToStaleEntry(t *testing.T) {
	c := NewCache()
	id := uuid.New()
	c.Put("bob", id)

	offline := ResolverFunc(func(string) (ID, bool) { return Nil, false })
	got, ok := c.Resolve(offline, "bob")
	if !ok || got != id {
		t.Fatalf("expected stale cache hit, got %v,%v", got, ok)
	}
	if _, ok := c.Resolve(offline, "carol"); ok {
		t.Fatalf("unknown offline name should not resolve")
	}
	if c.Len() != 1 {
		t.Fatalf("miss must not populate cache, len=%d", c.Len())
	}
}

func TestCacheResolve_NilResolver(t *testing.T) {
	c := NewCache()
	if _, ok := c.Resolve(nil, "x"); ok {
		t.Fatalf("nil resolver with empty cache should miss")
	}
	c.Put("x", uuid.New())
	if _, ok := c.Resolve(nil, "x"); !ok {
		t.Fatalf("nil resolver should still read the cache")
	}
}

func TestCachePut_IgnoresEmpty(t *testing.T) {
	c := NewCache()
	c.Put("", uuid.New())
	c.Put("x", Nil)
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, len=%d", c.Len())
	}
}

func TestSnapshotSorted(t *testing.T) {
	c := NewCache()
	c.Put("zed", uuid.New())
	c.Put("amy", uuid.New())
	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].Name != "amy" || snap[1].Name != "zed" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestFromNameStable(t *testing.T) {
	if FromName("Alice") != FromName(" alice ") {
		t.Fatalf("FromName should normalize case and space")
	}
	if FromName("alice") == FromName("bob") {
		t.Fatalf("distinct names should not collide")
	}
}
