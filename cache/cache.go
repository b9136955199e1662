// Package cache memoizes extraction results by content fingerprint.
//
// Two tiers: a bounded in-memory LRU and an optional SQLite store that
// survives restarts. GetOrCompute runs at most one computation per key at a
// time; concurrent callers for the same key wait for it and share its
// outcome. Failed computations are never stored.
package cache

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/dbopen"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/mimes"
)

const schema = `
CREATE TABLE IF NOT EXISTS extraction_cache (
	key        TEXT PRIMARY KEY,
	mime_type  TEXT NOT NULL,
	result     BLOB NOT NULL,
	size       INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_cache_created ON extraction_cache(created_at);
`

// Config configures a Cache.
type Config struct {
	// MemoryEntries bounds the LRU tier. Default 256.
	MemoryEntries int

	// Path is the SQLite store file. Empty means memory only.
	Path string

	// DB is an already-open database used instead of Path. The cache does
	// not close it.
	DB *sql.DB

	// TTL expires stored entries. 0 means entries never expire.
	TTL time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryEntries <= 0 {
		c.MemoryEntries = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats reports cache activity since creation or the last Clear.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Computations  int64 `json:"computations"`
	MemoryEntries int   `json:"memory_entries"`
	StoredEntries int64 `json:"stored_entries"`
	StoredBytes   int64 `json:"stored_bytes"`
}

type entry struct {
	result  *document.Result
	created time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg    Config
	mem    *lru.Cache[string, entry]
	db     *sql.DB
	ownsDB bool
	group  singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
}

// New creates a cache, opening the SQLite store when configured.
func New(cfg Config) (*Cache, error) {
	cfg.defaults()
	mem, err := lru.New[string, entry](cfg.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: lru: %w", err)
	}
	c := &Cache{cfg: cfg, mem: mem, db: cfg.DB}

	switch {
	case c.db != nil:
		if _, err := c.db.Exec(schema); err != nil {
			return nil, fmt.Errorf("cache: schema: %w", err)
		}
	case cfg.Path != "":
		db, err := dbopen.Open(cfg.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		c.db, c.ownsDB = db, true
	}
	return c, nil
}

// Close closes the store if the cache opened it.
func (c *Cache) Close() error {
	if c.ownsDB && c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Fingerprint derives the cache key of an extraction: BLAKE2b-256 over the
// content hash, the normalized MIME type and the canonical config.
func Fingerprint(data []byte, mime string, cfg *config.ExtractionConfig) string {
	content := blake2b.Sum256(data)
	h, _ := blake2b.New256(nil)
	h.Write(content[:])
	h.Write([]byte{0})
	h.Write([]byte(mimes.Normalize(mime)))
	h.Write([]byte{0})
	h.Write(cfg.Canonical())
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached result for key.
func (c *Cache) Get(ctx context.Context, key string) (*document.Result, bool) {
	if r, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		return r, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *Cache) lookup(ctx context.Context, key string) (*document.Result, bool) {
	if e, ok := c.mem.Get(key); ok {
		if !c.expired(e.created) {
			return e.result.Clone(), true
		}
		c.mem.Remove(key)
	}
	if c.db == nil {
		return nil, false
	}

	var blob []byte
	var created int64
	err := c.db.QueryRowContext(ctx,
		`SELECT result, created_at FROM extraction_cache WHERE key = ?`, key,
	).Scan(&blob, &created)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.cfg.Logger.Warn("cache: store read failed", "key", key, "error", err)
		}
		return nil, false
	}
	at := time.UnixMilli(created)
	if c.expired(at) {
		_, _ = dbopen.Exec(ctx, c.db, `DELETE FROM extraction_cache WHERE key = ?`, key)
		return nil, false
	}
	var r document.Result
	if err := json.Unmarshal(blob, &r); err != nil {
		c.cfg.Logger.Warn("cache: corrupt entry dropped", "key", key, "error", err)
		_, _ = dbopen.Exec(ctx, c.db, `DELETE FROM extraction_cache WHERE key = ?`, key)
		return nil, false
	}
	c.mem.Add(key, entry{result: r.Clone(), created: at})
	return &r, true
}

func (c *Cache) expired(created time.Time) bool {
	return c.cfg.TTL > 0 && time.Since(created) > c.cfg.TTL
}

// Put stores a copy of r under key.
func (c *Cache) Put(ctx context.Context, key string, r *document.Result) error {
	if r == nil {
		return docerr.Validation("cache: nil result")
	}
	now := time.Now()
	c.mem.Add(key, entry{result: r.Clone(), created: now})
	if c.db == nil {
		return nil
	}
	blob, err := json.Marshal(r)
	if err != nil {
		return docerr.Wrap(docerr.KindInternal, err, "cache: encode result")
	}
	_, err = dbopen.Exec(ctx, c.db,
		`INSERT INTO extraction_cache (key, mime_type, result, size, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   mime_type = excluded.mime_type,
		   result = excluded.result,
		   size = excluded.size,
		   created_at = excluded.created_at`,
		key, r.MimeType, blob, len(blob), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache: store write: %w", err)
	}
	return nil
}

// errAbandoned ends a computation every waiter walked away from.
var errAbandoned = errors.New("cache: computation abandoned")

// flight is the context a shared computation runs under. It outlives any
// single caller and is cancelled once the last waiter leaves early.
type flight struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	waiters int
}

type outcome struct {
	result   *document.Result
	computed bool
}

// GetOrCompute returns the cached result for key, or runs fn once across
// all concurrent callers and stores its result. Every caller receives its
// own copy, and computed reports whether fn produced it rather than a
// tier. An error from fn reaches every waiter and nothing is stored.
//
// A caller whose ctx ends gets its context error at once. The computation
// keeps running for the callers still waiting and is cancelled only when
// none are left.
func (c *Cache) GetOrCompute(ctx context.Context, key string, fn func(ctx context.Context) (*document.Result, error)) (r *document.Result, computed bool, err error) {
	if r, ok := c.Get(ctx, key); ok {
		return r, false, nil
	}

	fl := c.join(ctx, key)
	for {
		ch := c.group.DoChan(key, func() (any, error) { return c.compute(fl.ctx, key, fn) })
		select {
		case res := <-ch:
			if errors.Is(res.Err, errAbandoned) {
				// Joined a computation its own waiters gave up on.
				if ctx.Err() == nil {
					continue
				}
				c.leave(key, fl, true)
				return nil, false, docerr.FromContext(ctx.Err())
			}
			c.leave(key, fl, false)
			if res.Err != nil {
				return nil, false, res.Err
			}
			o := res.Val.(outcome)
			return o.result.Clone(), o.computed, nil
		case <-ctx.Done():
			c.leave(key, fl, true)
			return nil, false, docerr.FromContext(ctx.Err())
		}
	}
}

func (c *Cache) compute(ctx context.Context, key string, fn func(ctx context.Context) (*document.Result, error)) (outcome, error) {
	// A caller that just finished may have stored it.
	if r, ok := c.lookup(ctx, key); ok {
		return outcome{result: r}, nil
	}
	c.computations.Add(1)
	r, err := fn(ctx)
	if err != nil {
		if errors.Is(context.Cause(ctx), errAbandoned) {
			return outcome{}, errAbandoned
		}
		return outcome{}, err
	}
	if err := c.Put(ctx, key, r); err != nil {
		c.cfg.Logger.Warn("cache: put failed", "key", key, "error", err)
	}
	return outcome{result: r, computed: true}, nil
}

// join registers a waiter on the flight for key, starting one detached
// from ctx's cancellation but keeping its values.
func (c *Cache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	fl := c.flights[key]
	if fl == nil {
		fctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		fl = &flight{ctx: fctx, cancel: cancel}
		if c.flights == nil {
			c.flights = map[string]*flight{}
		}
		c.flights[key] = fl
	}
	fl.waiters++
	return fl
}

func (c *Cache) leave(key string, fl *flight, early bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	if early {
		fl.cancel(errAbandoned)
	} else {
		fl.cancel(nil)
	}
	if c.flights[key] == fl {
		delete(c.flights, key)
	}
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mem.Remove(key)
	if c.db == nil {
		return nil
	}
	if _, err := dbopen.Exec(ctx, c.db, `DELETE FROM extraction_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// Clear empties both tiers and resets the counters.
func (c *Cache) Clear(ctx context.Context) error {
	c.mem.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
	c.computations.Store(0)
	if c.db == nil {
		return nil
	}
	if _, err := dbopen.Exec(ctx, c.db, `DELETE FROM extraction_cache`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	c.cfg.Logger.Info("cache: cleared")
	return nil
}

// Prune deletes stored entries older than the TTL and returns how many went.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	if c.db == nil || c.cfg.TTL <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-c.cfg.TTL).UnixMilli()
	res, err := dbopen.Exec(ctx, c.db, `DELETE FROM extraction_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats returns a snapshot of counters and tier sizes.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Computations:  c.computations.Load(),
		MemoryEntries: c.mem.Len(),
	}
	if c.db == nil {
		return s, nil
	}
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM extraction_cache`,
	).Scan(&s.StoredEntries, &s.StoredBytes)
	if err != nil {
		return s, fmt.Errorf("cache: stats: %w", err)
	}
	return s, nil
}
