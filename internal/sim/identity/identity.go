// Package identity maps display names to stable identities.
//
// A display name can be reused, renamed or be offline; the stable ID is what the
// robot registry is keyed by. The cache is written only by the world loop goroutine.
package identity

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ID is a session-independent identity for a robot owner.
type ID = uuid.UUID

// Nil is the zero identity; it never names an owner.
var Nil = uuid.Nil

// Resolver reports the stable identity of a name that is currently live.
// Absence is a normal outcome, not an error.
type Resolver interface {
	Lookup(name string) (ID, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (ID, bool)

func (f ResolverFunc) Lookup(name string) (ID, bool) { return f(name) }

// FromName derives a deterministic identity for offline/dev setups where no account
// store is configured.
func FromName(name string) ID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("robominions:"+strings.ToLower(strings.TrimSpace(name))))
}

// Cache memoizes name -> identity. Not safe for concurrent writers.
type Cache struct {
	byName map[string]ID
}

func NewCache() *Cache {
	return &Cache{byName: map[string]ID{}}
}

// Resolve refreshes the mapping when r reports the name live, otherwise it falls
// back to the last cached identity (which may be stale).
func (c *Cache) Resolve(r Resolver, name string) (ID, bool) {
	if r != nil {
		if id, ok := r.Lookup(name); ok && id != Nil {
			c.byName[name] = id
			return id, true
		}
	}
	id, ok := c.byName[name]
	return id, ok
}

func (c *Cache) Get(name string) (ID, bool) {
	id, ok := c.byName[name]
	return id, ok
}

func (c *Cache) Put(name string, id ID) {
	if name == "" || id == Nil {
		return
	}
	c.byName[name] = id
}

func (c *Cache) Len() int { return len(c.byName) }

// Entry is one cached mapping.
type Entry struct {
	Name string
	ID   ID
}

// Snapshot returns a copy sorted by name; safe to hand to other goroutines.
func (c *Cache) Snapshot() []Entry {
	out := make([]Entry, 0, len(c.byName))
	for name, id := range c.byName {
		out = append(out, Entry{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
