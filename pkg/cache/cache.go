// Package cache stores extraction results keyed by the content that produced
// them.
//
// A Key is derived purely from content: the document bytes, the prompt, the
// schema structure and the backend identity. File names, paths and object
// identity never take part, so the same input always maps to the same entry
// across processes and restarts.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

// Key identifies one cached extraction.
type Key struct {
	Document string // sha256 hex of the document bytes
	Prompt   string // sha256 hex of the prompt
	Schema   string // schema structural hash, sha256 of "" when absent
	Backend  string // backend identity and model
}

// String joins the components with colons. Persistent stores use it as the
// record key.
func (k Key) String() string {
	return k.Document + ":" + k.Prompt + ":" + k.Schema + ":" + k.Backend
}

// Derive computes the key for an extraction request. backendID names the
// backend (or the comma-joined identities of a chain); model is appended
// after a slash when set.
func Derive(doc []byte, prompt string, s *schema.Schema, backendID, model string) Key {
	schemaHash := digest("")
	if s != nil {
		schemaHash = s.Hash()
	}
	backend := backendID
	if model != "" {
		backend += "/" + model
	}
	return Key{
		Document: digestBytes(doc),
		Prompt:   digest(prompt),
		Schema:   schemaHash,
		Backend:  backend,
	}
}

// ChainIdentity joins ordered backend identities the way Derive expects for
// a fallback chain.
func ChainIdentity(ids ...string) string {
	return strings.Join(ids, ",")
}

func digest(s string) string { return digestBytes([]byte(s)) }

func digestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Value is a serialized extraction result (JSON).
type Value []byte

// Entry is a stored value with its timestamps.
type Entry struct {
	Value     Value
	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiry
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Cache is implemented by every result store.
//
// A ttl of zero on Set uses the store's default TTL; a store without a
// default keeps the entry until it is evicted or deleted.
type Cache interface {
	Get(ctx context.Context, key Key) (Value, bool, error)
	Set(ctx context.Context, key Key, value Value, ttl time.Duration) error
	Delete(ctx context.Context, key Key) (bool, error)
	Clear(ctx context.Context) (int, error)
	Stats() Stats
	Close() error
}

// Cleaner is implemented by stores that can drop expired entries eagerly.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Stats reports lookup counters and the number of stored entries.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// HitRate returns hits/(hits+misses), or 0 when there were no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Error wraps a failure of the underlying store.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// counters tracks hits and misses for a store.
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) hit()  { c.hits.Add(1) }
func (c *counters) miss() { c.misses.Add(1) }

func (c *counters) stats(size int) Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}
}

func expiry(now time.Time, ttl, def time.Duration) time.Time {
	if ttl <= 0 {
		ttl = def
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Nop is a Cache that stores nothing.
type Nop struct{ counters }

func (n *Nop) Get(context.Context, Key) (Value, bool, error) {
	n.miss()
	return nil, false, nil
}
func (n *Nop) Set(context.Context, Key, Value, time.Duration) error { return nil }
func (n *Nop) Delete(context.Context, Key) (bool, error)            { return false, nil }
func (n *Nop) Clear(context.Context) (int, error)                   { return 0, nil }
func (n *Nop) Stats() Stats                                         { return n.stats(0) }
func (n *Nop) Close() error                                         { return nil }
