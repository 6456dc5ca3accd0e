package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const defaultTable = "strutex_cache"

// SQL stores entries in a relational table. It works with SQLite (driver
// "sqlite") and PostgreSQL (driver "pgx"); queries are written with ?
// placeholders and rebound per driver.
type SQL struct {
	counters

	db      *sqlx.DB
	table   string
	ttl     time.Duration
	maxSize int
	owned   bool
	now     func() time.Time
}

// SQLOptions configures a SQL cache.
type SQLOptions struct {
	Table   string        // default "strutex_cache"
	TTL     time.Duration // default TTL for Set calls with ttl 0
	MaxSize int           // 0 means unbounded; otherwise least recently accessed rows are evicted
}

type sqlRow struct {
	Value     string        `db:"value"`
	ExpiresAt sql.NullInt64 `db:"expires_at"`
}

// OpenSQLite opens (or creates) a SQLite database file. Instances opened on
// the same file share entries.
func OpenSQLite(path string, opts SQLOptions) (*SQL, error) {
	db, err := sqlx.Connect("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, storeErr("open", fmt.Errorf("connecting to sqlite: %w", err))
	}
	// single writer; avoids SQLITE_BUSY under concurrent Set calls
	db.SetMaxOpenConns(1)
	c, err := NewSQL(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.owned = true
	return c, nil
}

// OpenPostgres connects to PostgreSQL through pgx.
func OpenPostgres(dsn string, opts SQLOptions) (*SQL, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, storeErr("open", fmt.Errorf("connecting to postgres: %w", err))
	}
	c, err := NewSQL(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.owned = true
	return c, nil
}

// NewSQL wraps an existing connection and creates the table if missing.
func NewSQL(db *sqlx.DB, opts SQLOptions) (*SQL, error) {
	table := opts.Table
	if table == "" {
		table = defaultTable
	}
	c := &SQL{db: db, table: table, ttl: opts.TTL, maxSize: opts.MaxSize, now: time.Now}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		cache_key   TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		created_at  BIGINT NOT NULL,
		expires_at  BIGINT,
		accessed_at BIGINT NOT NULL
	)`, table)
	if _, err := db.Exec(ddl); err != nil {
		return nil, storeErr("open", fmt.Errorf("creating table: %w", err))
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_idx ON %s (expires_at)`, table, table)
	if _, err := db.Exec(idx); err != nil {
		return nil, storeErr("open", fmt.Errorf("creating index: %w", err))
	}
	return c, nil
}

func (c *SQL) q(query string) string {
	return c.db.Rebind(fmt.Sprintf(query, c.table))
}

func (c *SQL) Get(ctx context.Context, key Key) (Value, bool, error) {
	var row sqlRow
	err := c.db.GetContext(ctx, &row, c.q(`SELECT value, expires_at FROM %s WHERE cache_key = ?`), key.String())
	if errors.Is(err, sql.ErrNoRows) {
		c.miss()
		return nil, false, nil
	}
	if err != nil {
		c.miss()
		return nil, false, storeErr("get", err)
	}

	now := c.now()
	if row.ExpiresAt.Valid && now.UnixNano() >= row.ExpiresAt.Int64 {
		if _, err := c.db.ExecContext(ctx, c.q(`DELETE FROM %s WHERE cache_key = ?`), key.String()); err != nil {
			c.miss()
			return nil, false, storeErr("get", err)
		}
		c.miss()
		return nil, false, nil
	}

	if _, err := c.db.ExecContext(ctx, c.q(`UPDATE %s SET accessed_at = ? WHERE cache_key = ?`), now.UnixNano(), key.String()); err != nil {
		c.miss()
		return nil, false, storeErr("get", err)
	}
	c.hit()
	return Value(row.Value), true, nil
}

func (c *SQL) Set(ctx context.Context, key Key, value Value, ttl time.Duration) error {
	now := c.now()
	var exp sql.NullInt64
	if t := expiry(now, ttl, c.ttl); !t.IsZero() {
		exp = sql.NullInt64{Int64: t.UnixNano(), Valid: true}
	}

	_, err := c.db.ExecContext(ctx, c.q(`INSERT INTO %s (cache_key, value, created_at, expires_at, accessed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			accessed_at = excluded.accessed_at`),
		key.String(), string(value), now.UnixNano(), exp, now.UnixNano())
	if err != nil {
		return storeErr("set", err)
	}

	if c.maxSize > 0 {
		if err := c.evict(ctx); err != nil {
			return storeErr("set", err)
		}
	}
	return nil
}

// evict drops the least recently accessed rows beyond maxSize.
func (c *SQL) evict(ctx context.Context) error {
	var count int
	if err := c.db.GetContext(ctx, &count, c.q(`SELECT COUNT(*) FROM %s`)); err != nil {
		return err
	}
	excess := count - c.maxSize
	if excess <= 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx, c.q(`DELETE FROM %[1]s WHERE cache_key IN (
		SELECT cache_key FROM %[1]s ORDER BY accessed_at ASC LIMIT ?)`), excess)
	return err
}

func (c *SQL) Delete(ctx context.Context, key Key) (bool, error) {
	res, err := c.db.ExecContext(ctx, c.q(`DELETE FROM %s WHERE cache_key = ?`), key.String())
	if err != nil {
		return false, storeErr("delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *SQL) Clear(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, c.q(`DELETE FROM %s`))
	if err != nil {
		return 0, storeErr("clear", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *SQL) CleanupExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, c.q(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?`), c.now().UnixNano())
	if err != nil {
		return 0, storeErr("cleanup", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *SQL) Stats() Stats {
	var size int
	_ = c.db.Get(&size, c.q(`SELECT COUNT(*) FROM %s`))
	return c.stats(size)
}

// Close closes the database when the cache opened it.
func (c *SQL) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}
