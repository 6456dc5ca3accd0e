package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aquilesorei/strutex/internal/logger"
)

// File stores one JSON file per entry, named by the sha256 of the key.
type File struct {
	counters

	dir string
	ttl time.Duration
	now func() time.Time
}

type fileRecord struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// NewFile creates a file cache rooted at dir, creating it if needed.
func NewFile(dir string, ttl time.Duration) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeErr("open", err)
	}
	return &File{dir: dir, ttl: ttl, now: time.Now}, nil
}

// Dir returns the cache directory.
func (f *File) Dir() string { return f.dir }

func (f *File) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+".json")
}

// Get reads the entry for key. Missing, corrupt and expired files are misses;
// expired and corrupt files are removed.
func (f *File) Get(_ context.Context, key Key) (Value, bool, error) {
	p := f.path(key.String())
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		f.miss()
		return nil, false, nil
	}
	if err != nil {
		f.miss()
		return nil, false, storeErr("get", err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Key != key.String() {
		logger.Debug("discarding unreadable cache file", "path", p, "error", err)
		_ = os.Remove(p)
		f.miss()
		return nil, false, nil
	}
	if rec.ExpiresAt != nil && !f.now().Before(*rec.ExpiresAt) {
		_ = os.Remove(p)
		f.miss()
		return nil, false, nil
	}

	f.hit()
	return Value(rec.Value), true, nil
}

// Set writes the entry atomically through a temp file and rename.
func (f *File) Set(_ context.Context, key Key, value Value, ttl time.Duration) error {
	if !json.Valid(value) {
		return storeErr("set", fmt.Errorf("value is not valid JSON"))
	}
	now := f.now()
	rec := fileRecord{Key: key.String(), Value: json.RawMessage(value), CreatedAt: now}
	if exp := expiry(now, ttl, f.ttl); !exp.IsZero() {
		rec.ExpiresAt = &exp
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return storeErr("set", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return storeErr("set", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return storeErr("set", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return storeErr("set", err)
	}
	if err := os.Rename(tmp.Name(), f.path(rec.Key)); err != nil {
		os.Remove(tmp.Name())
		return storeErr("set", err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key Key) (bool, error) {
	err := os.Remove(f.path(key.String()))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("delete", err)
	}
	return true, nil
}

func (f *File) Clear(context.Context) (int, error) {
	files, err := f.entries()
	if err != nil {
		return 0, storeErr("clear", err)
	}
	n := 0
	for _, p := range files {
		if err := os.Remove(p); err == nil {
			n++
		}
	}
	return n, nil
}

// CleanupExpired removes expired and unreadable entries.
func (f *File) CleanupExpired(context.Context) (int, error) {
	files, err := f.entries()
	if err != nil {
		return 0, storeErr("cleanup", err)
	}
	now := f.now()
	n := 0
	for _, p := range files {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var rec fileRecord
		if json.Unmarshal(data, &rec) == nil && (rec.ExpiresAt == nil || now.Before(*rec.ExpiresAt)) {
			continue
		}
		if os.Remove(p) == nil {
			n++
		}
	}
	return n, nil
}

func (f *File) Stats() Stats {
	files, _ := f.entries()
	return f.stats(len(files))
}

func (f *File) Close() error { return nil }

func (f *File) entries() ([]string, error) {
	dirEntries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, filepath.Join(f.dir, e.Name()))
	}
	return out, nil
}
