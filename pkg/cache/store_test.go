package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// --- File ---

func TestFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f, err := NewFile(filepath.Join(t.TempDir(), "cache"), 0)
	if err != nil {
		t.Fatal(err)
	}
	k := testKey("a")

	if _, ok, _ := f.Get(ctx, k); ok {
		t.Fatal("empty cache should miss")
	}
	if err := f.Set(ctx, k, Value(`{"total":30}`), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, err := f.Get(ctx, k)
	if err != nil || !ok || string(v) != `{"total":30}` {
		t.Fatalf("Get() = %s, %v, %v", v, ok, err)
	}
	if f.Stats().Size != 1 {
		t.Errorf("Size = %d", f.Stats().Size)
	}

	// file name is the sha256 of the key, never the document name
	entries, _ := os.ReadDir(f.Dir())
	if len(entries) != 1 || len(entries[0].Name()) != 64+len(".json") {
		t.Errorf("unexpected files %v", entries)
	}

	if ok, _ := f.Delete(ctx, k); !ok {
		t.Error("Delete() should report removal")
	}
}

func TestFile_RejectsInvalidJSON(t *testing.T) {
	f, _ := NewFile(t.TempDir(), 0)
	err := f.Set(context.Background(), testKey("a"), Value(`not json`), 0)
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Errorf("expected *Error, got %v", err)
	}
}

func TestFile_CorruptIsMiss(t *testing.T) {
	ctx := context.Background()
	f, _ := NewFile(t.TempDir(), 0)
	k := testKey("a")
	_ = f.Set(ctx, k, Value(`{}`), 0)

	if err := os.WriteFile(f.path(k.String()), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	v, ok, err := f.Get(ctx, k)
	if ok || err != nil || v != nil {
		t.Errorf("corrupt file should be a clean miss, got %s, %v, %v", v, ok, err)
	}
	if f.Stats().Size != 0 {
		t.Error("corrupt file should be removed")
	}
}

func TestFile_TTLAndCleanup(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	f, _ := NewFile(t.TempDir(), time.Hour)
	f.now = clk.now

	_ = f.Set(ctx, testKey("a"), Value(`1`), time.Second)
	_ = f.Set(ctx, testKey("b"), Value(`2`), time.Second)
	_ = f.Set(ctx, testKey("c"), Value(`3`), 0)

	clk.advance(time.Minute)
	if _, ok, _ := f.Get(ctx, testKey("a")); ok {
		t.Error("expired entry should miss")
	}
	if n, _ := f.CleanupExpired(ctx); n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}
	if _, ok, _ := f.Get(ctx, testKey("c")); !ok {
		t.Error("entry within default ttl should hit")
	}
	if n, _ := f.Clear(ctx); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
}

// --- SQL (SQLite) ---

func openTestSQLite(t *testing.T, path string, opts SQLOptions) *SQL {
	t.Helper()
	c, err := OpenSQLite(path, opts)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQL_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openTestSQLite(t, filepath.Join(t.TempDir(), "cache.db"), SQLOptions{})
	k := testKey("a")

	if _, ok, err := c.Get(ctx, k); ok || err != nil {
		t.Fatalf("empty cache Get() = %v, %v", ok, err)
	}
	if err := c.Set(ctx, k, Value(`{"total":30}`), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Set(ctx, k, Value(`{"total":31}`), 0); err != nil {
		t.Fatalf("upsert error = %v", err)
	}
	v, ok, err := c.Get(ctx, k)
	if err != nil || !ok || string(v) != `{"total":31}` {
		t.Fatalf("Get() = %s, %v, %v", v, ok, err)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Size != 1 {
		t.Errorf("Stats() = %+v", st)
	}

	if ok, _ := c.Delete(ctx, k); !ok {
		t.Error("Delete() should report removal")
	}
}

func TestSQL_SharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	a := openTestSQLite(t, path, SQLOptions{})
	b := openTestSQLite(t, path, SQLOptions{})

	_ = a.Set(ctx, testKey("x"), Value(`"from a"`), 0)
	v, ok, err := b.Get(ctx, testKey("x"))
	if err != nil || !ok || string(v) != `"from a"` {
		t.Errorf("second instance Get() = %s, %v, %v", v, ok, err)
	}
}

func TestSQL_TTLAndCleanup(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	c := openTestSQLite(t, filepath.Join(t.TempDir(), "ttl.db"), SQLOptions{})
	c.now = clk.now

	_ = c.Set(ctx, testKey("a"), Value(`1`), time.Second)
	_ = c.Set(ctx, testKey("b"), Value(`2`), time.Second)
	_ = c.Set(ctx, testKey("c"), Value(`3`), 0)

	clk.advance(time.Minute)
	if _, ok, _ := c.Get(ctx, testKey("a")); ok {
		t.Error("expired entry should miss")
	}
	if n, err := c.CleanupExpired(ctx); err != nil || n != 1 {
		t.Errorf("CleanupExpired() = %d, %v, want 1", n, err)
	}
	if n, _ := c.Clear(ctx); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
}

func TestSQL_MaxSizeEvictsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	c := openTestSQLite(t, filepath.Join(t.TempDir(), "lru.db"), SQLOptions{MaxSize: 2})
	c.now = tick()

	_ = c.Set(ctx, testKey("a"), Value(`1`), 0)
	_ = c.Set(ctx, testKey("b"), Value(`2`), 0)
	if _, ok, _ := c.Get(ctx, testKey("a")); !ok {
		t.Fatal("a should be cached")
	}
	_ = c.Set(ctx, testKey("c"), Value(`3`), 0)

	if _, ok, _ := c.Get(ctx, testKey("b")); ok {
		t.Error("b should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, testKey("a")); !ok {
		t.Error("a should survive")
	}
}

func TestSQL_ClosedDatabaseReturnsCacheError(t *testing.T) {
	c, err := OpenSQLite(filepath.Join(t.TempDir(), "closed.db"), SQLOptions{})
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	_, ok, err := c.Get(context.Background(), testKey("a"))
	var cerr *Error
	if ok || !errors.As(err, &cerr) || cerr.Op != "get" {
		t.Errorf("Get() on closed db = %v, %v", ok, err)
	}
	if c.Stats().Misses != 1 {
		t.Error("a failed Get should count as a miss")
	}
}

// --- Redis ---

func TestRedis_UnreachableDegradesToError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedis(client, RedisOptions{})
	defer client.Close()
	ctx := context.Background()

	_, ok, err := r.Get(ctx, testKey("a"))
	var cerr *Error
	if ok || !errors.As(err, &cerr) {
		t.Errorf("Get() = %v, %v; want *Error", ok, err)
	}
	if err := r.Set(ctx, testKey("a"), Value(`1`), 0); !errors.As(err, &cerr) {
		t.Errorf("Set() = %v; want *Error", err)
	}
	st := r.Stats()
	if st.Misses != 1 || st.Size != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestRedis_KeyPrefix(t *testing.T) {
	r := NewRedis(redis.NewClient(&redis.Options{}), RedisOptions{})
	k := testKey("a")
	if got := r.key(k); got != "strutex:cache:"+k.String() {
		t.Errorf("key() = %q", got)
	}
	r = NewRedis(redis.NewClient(&redis.Options{}), RedisOptions{Prefix: "p:"})
	if got := r.key(k); got != "p:"+k.String() {
		t.Errorf("key() = %q", got)
	}
}

func TestOpenRedis_BadURL(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not-a-url", RedisOptions{}); err == nil {
		t.Error("expected error for invalid URL")
	}
}
