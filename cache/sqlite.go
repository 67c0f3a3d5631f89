package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLiteTier is a durable tier backed by a local SQLite file, for single-node
// deployments without Redis. Expiry is enforced by the store: reads ignore
// rows past expires_at and a background task deletes them.
type SQLiteTier struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Tier = (*SQLiteTier)(nil)

// NewSQLiteTier opens (creating if needed) the database at dbPath. If dbPath
// is empty or ":memory:", an in-memory database is used.
func NewSQLiteTier(ctx context.Context, dbPath string, opts ...Option) (*SQLiteTier, error) {
	cfg := applyOptions(opts)
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: opening sqlite %s", dbPath)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS tiercache (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			compressed INTEGER NOT NULL,
			checksum INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tiercache_expires_at ON tiercache(expires_at)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "cache: preparing sqlite schema")
		}
	}

	childCtx, cancel := context.WithCancel(ctx)
	c := &SQLiteTier{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    cfg,
	}
	if c.cfg.expiryCheck > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c, nil
}

func (c *SQLiteTier) Name() string { return "sqlite" }

func (c *SQLiteTier) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *SQLiteTier) Get(ctx context.Context, key string) (Record, bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var (
		rec        Record
		compressed int
		checksum   int64
	)
	err := c.db.QueryRowContext(qctx,
		`SELECT payload, compressed, checksum FROM tiercache WHERE key = ? AND expires_at > ?`,
		key, c.cfg.now().UnixNano(),
	).Scan(&rec.Payload, &compressed, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, unavailable(err, "sqlite get")
	}
	switch compressed {
	case 0:
	case 1:
		rec.Compressed = true
	default:
		return Record{}, false, corrupt("cache: record has invalid compression flag %d", compressed)
	}
	rec.Checksum = uint64(checksum)
	return rec, true, nil
}

func (c *SQLiteTier) Set(ctx context.Context, key string, rec Record, ttlHours int) error {
	ttl, err := ttlFromHours(ttlHours)
	if err != nil {
		return err
	}
	var compressed int
	if rec.Compressed {
		compressed = 1
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	_, err = c.db.ExecContext(qctx,
		`INSERT INTO tiercache (key, payload, compressed, checksum, expires_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, compressed = excluded.compressed,
			checksum = excluded.checksum, expires_at = excluded.expires_at`,
		key, rec.Payload, compressed, int64(rec.Checksum), c.cfg.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return unavailable(err, "sqlite set")
	}
	return nil
}

func (c *SQLiteTier) Delete(ctx context.Context, key string) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if _, err := c.db.ExecContext(qctx, `DELETE FROM tiercache WHERE key = ?`, key); err != nil {
		return unavailable(err, "sqlite delete")
	}
	return nil
}

func (c *SQLiteTier) Clear(ctx context.Context) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if _, err := c.db.ExecContext(qctx, `DELETE FROM tiercache`); err != nil {
		return unavailable(err, "sqlite clear")
	}
	return nil
}

func (c *SQLiteTier) Ping(ctx context.Context) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.db.PingContext(qctx); err != nil {
		return unavailable(err, "sqlite ping")
	}
	return nil
}

// PurgeExpired deletes rows past their expiry and returns how many were removed.
func (c *SQLiteTier) PurgeExpired(ctx context.Context) (int64, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	result, err := c.db.ExecContext(qctx, `DELETE FROM tiercache WHERE expires_at <= ?`, c.cfg.now().UnixNano())
	if err != nil {
		return 0, unavailable(err, "sqlite purge")
	}
	return result.RowsAffected()
}

// Close stops the purge task and closes the database.
func (c *SQLiteTier) Close() error {
	var dbErr error
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
		dbErr = c.db.Close()
	})
	return dbErr
}

func (c *SQLiteTier) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.PurgeExpired(c.ctx)
		}
	}
}
