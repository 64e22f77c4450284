package store

import (
	"context"
	"database/sql"
	"io"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"stashbin/pkg/domain"
)

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 50
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// SQLite is the relational backend. It owns two relations: pastes for
// metadata and paste_content for blobs, independently writable so the
// sweeper's zombie reconciliation applies to this backend too. A small
// circuit breaker turns repeated backend errors into fast
// ErrStorageUnavailable failures instead of piling up timeouts.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL,
		ttl INTEGER NOT NULL,
		created INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS paste_content (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		created INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_created ON pastes(created);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed, circuitHalfOpen:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return domain.ErrStorageUnavailable
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if isConstraint(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func isConstraint(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint
}

func (s *SQLite) Create(ctx context.Context, rec *domain.PasteRecord) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `INSERT INTO pastes (id, key, ttl, created) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(queryCtx, q, rec.ID, rec.Key, rec.TTL, rec.CreatedAt.Unix())
	s.recordError(err)
	if isConstraint(err) {
		return domain.ErrConflict
	}
	return errors.Wrap(err, "db create")
}

func (s *SQLite) FindByID(ctx context.Context, id string) (*domain.PasteRecord, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT id, key, ttl, created FROM pastes WHERE id = ?`
	var (
		rec     domain.PasteRecord
		created int64
	)
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&rec.ID, &rec.Key, &rec.TTL, &created)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return &rec, nil
}

func (s *SQLite) DeleteByID(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	// Exact primary-key equality only. Never a pattern match: an id is an
	// opaque value, not a glob.
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "db delete")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List streams the whole pastes relation. The rows cursor lives on the
// caller's context rather than the per-query timeout: a sweep over a large
// table legitimately outlives a point query.
func (s *SQLite) List(ctx context.Context) (RecordIterator, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, key, ttl, created FROM pastes`)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list")
	}
	return &recordRows{rows: rows}, nil
}

type recordRows struct {
	rows *sql.Rows
	rec  domain.PasteRecord
	err  error
}

func (r *recordRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	var created int64
	if err := r.rows.Scan(&r.rec.ID, &r.rec.Key, &r.rec.TTL, &created); err != nil {
		r.err = errors.Wrap(err, "scan record")
		return false
	}
	r.rec.CreatedAt = time.Unix(created, 0).UTC()
	return true
}

func (r *recordRows) Record() *domain.PasteRecord {
	rec := r.rec
	return &rec
}

func (r *recordRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *recordRows) Close() error {
	return r.rows.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Content exposes the paste_content relation as a ContentStore for the
// DB-only backend configuration.
func (s *SQLite) Content() *SQLiteContent {
	return &SQLiteContent{s: s}
}

type SQLiteContent struct {
	s *SQLite
}

func (c *SQLiteContent) Put(ctx context.Context, id string, r io.Reader, n int64) error {
	if err := c.s.checkCircuit(); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(r, n+1))
	if err != nil {
		return errors.Wrap(err, "read content")
	}
	if int64(len(data)) > n {
		return domain.ErrPasteTooLarge
	}
	queryCtx, cancel := context.WithTimeout(ctx, c.s.queryTimeout)
	defer cancel()
	q := `INSERT INTO paste_content (id, data, created) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data, created = excluded.created`
	_, err = c.s.db.ExecContext(queryCtx, q, id, data, time.Now().Unix())
	c.s.recordError(err)
	return errors.Wrap(err, "put content")
}

func (c *SQLiteContent) Get(ctx context.Context, id string) ([]byte, error) {
	if err := c.s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, c.s.queryTimeout)
	defer cancel()
	var data []byte
	err := c.s.db.QueryRowContext(queryCtx, `SELECT data FROM paste_content WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	c.s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "get content")
	}
	return data, nil
}

func (c *SQLiteContent) Delete(ctx context.Context, id string) (bool, error) {
	if err := c.s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, c.s.queryTimeout)
	defer cancel()
	res, err := c.s.db.ExecContext(queryCtx, `DELETE FROM paste_content WHERE id = ?`, id)
	c.s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "delete content")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *SQLiteContent) Exists(ctx context.Context, id string) (bool, error) {
	if err := c.s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, c.s.queryTimeout)
	defer cancel()
	var one int
	err := c.s.db.QueryRowContext(queryCtx, `SELECT 1 FROM paste_content WHERE id = ? LIMIT 1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	c.s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return true, nil
}

func (c *SQLiteContent) List(ctx context.Context) ([]ContentInfo, error) {
	if err := c.s.checkCircuit(); err != nil {
		return nil, err
	}
	rows, err := c.s.db.QueryContext(ctx, `SELECT id, created FROM paste_content`)
	c.s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "list content")
	}
	defer rows.Close()
	var infos []ContentInfo
	for rows.Next() {
		var (
			id      string
			created int64
		)
		if err := rows.Scan(&id, &created); err != nil {
			return nil, errors.Wrap(err, "scan content row")
		}
		infos = append(infos, ContentInfo{ID: id, ModTime: time.Unix(created, 0).UTC()})
	}
	return infos, rows.Err()
}
