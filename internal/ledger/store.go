// Package ledger persists which source files have been linked and where.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/Nomadcxx/cinelink/internal/scanner"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly
const schemaVersion = 1

var (
	// ErrNotFound means no record exists for the source
	ErrNotFound = errors.New("ledger record not found")
	// ErrSchemaMismatch means the database was written by another version
	ErrSchemaMismatch = errors.New("ledger schema version mismatch")
	// ErrLocked means another process holds the ledger lock
	ErrLocked = errors.New("ledger is locked by another process")
)

// Record maps one source file to the link created for it
type Record struct {
	Source    string
	Link      string
	Kind      scanner.Kind
	CreatedAt time.Time
}

// Store is the SQLite-backed ledger. Each kind lives in its own table and has
// its own mutex for read-modify-write sequences.
type Store struct {
	db   *sql.DB
	path string

	fileLock *flock.Flock

	movieMu  sync.Mutex
	seriesMu sync.Mutex
}

type Option func(*openOptions)

type openOptions struct {
	exclusive bool
}

// Exclusive takes an advisory lock next to the database so only one writer
// process uses the ledger at a time.
func Exclusive() Option {
	return func(o *openOptions) { o.exclusive = true }
}

// Open creates or opens the ledger at path
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	var fileLock *flock.Flock
	if o.exclusive {
		fileLock = flock.New(path + ".lock")
		ok, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire ledger lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		releaseLock(fileLock)
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps per-connection pragmas in force
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			releaseLock(fileLock)
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, fileLock: fileLock}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		releaseLock(fileLock)
		return nil, err
	}
	return store, nil
}

func releaseLock(l *flock.Flock) {
	if l != nil {
		_ = l.Unlock()
	}
}

// Path returns the database file path
func (s *Store) Path() string { return s.path }

// Close closes the database and releases the process lock
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	releaseLock(s.fileLock)
	return err
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to rebuild)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func table(kind scanner.Kind) (string, error) {
	switch kind {
	case scanner.KindMovie:
		return "movies", nil
	case scanner.KindEpisode:
		return "series", nil
	default:
		return "", fmt.Errorf("no ledger partition for kind %s", kind)
	}
}

// Kinds lists the ledger partitions
func Kinds() []scanner.Kind {
	return []scanner.Kind{scanner.KindMovie, scanner.KindEpisode}
}

// WithLock runs fn while holding the partition mutex for kind
func (s *Store) WithLock(kind scanner.Kind, fn func() error) error {
	var mu *sync.Mutex
	switch kind {
	case scanner.KindMovie:
		mu = &s.movieMu
	case scanner.KindEpisode:
		mu = &s.seriesMu
	default:
		return fmt.Errorf("no ledger partition for kind %s", kind)
	}

	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// Put inserts or replaces the record for rec.Source
func (s *Store) Put(ctx context.Context, rec Record) error {
	tbl, err := table(rec.Kind)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+tbl+` (source_path, link_path, created_at) VALUES (?, ?, ?)
         ON CONFLICT(source_path) DO UPDATE SET link_path = excluded.link_path, created_at = excluded.created_at`,
		rec.Source, rec.Link, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put %s record: %w", rec.Kind, err)
	}
	return nil
}

// Get returns the record for source or ErrNotFound
func (s *Store) Get(ctx context.Context, kind scanner.Kind, source string) (Record, error) {
	tbl, err := table(kind)
	if err != nil {
		return Record{}, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT source_path, link_path, created_at FROM `+tbl+` WHERE source_path = ?`, source)
	rec, err := scanRecord(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s record: %w", kind, err)
	}
	return rec, nil
}

// Delete removes the record for source. Missing records are not an error.
func (s *Store) Delete(ctx context.Context, kind scanner.Kind, source string) error {
	tbl, err := table(kind)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+tbl+` WHERE source_path = ?`, source); err != nil {
		return fmt.Errorf("delete %s record: %w", kind, err)
	}
	return nil
}

// DeleteByLink removes every record pointing at link and returns how many
func (s *Store) DeleteByLink(ctx context.Context, kind scanner.Kind, link string) (int64, error) {
	tbl, err := table(kind)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+tbl+` WHERE link_path = ?`, link)
	if err != nil {
		return 0, fmt.Errorf("delete %s records by link: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// List returns every record of kind ordered by source path
func (s *Store) List(ctx context.Context, kind scanner.Kind) ([]Record, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source_path, link_path, created_at FROM `+tbl+` ORDER BY source_path`)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s record: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", kind, err)
	}
	return out, nil
}

// Count returns the number of records of kind
func (s *Store) Count(ctx context.Context, kind scanner.Kind) (int, error) {
	tbl, err := table(kind)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+tbl).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s records: %w", kind, err)
	}
	return n, nil
}

// IsLive reports whether source has a record whose link is still a symlink
func (s *Store) IsLive(ctx context.Context, kind scanner.Kind, source string) (bool, error) {
	rec, err := s.Get(ctx, kind, source)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return isSymlink(rec.Link), nil
}

// Validate deletes records whose link is gone or no longer a symlink and
// returns how many were removed per kind.
func (s *Store) Validate(ctx context.Context) (map[scanner.Kind]int, error) {
	removed := make(map[scanner.Kind]int, 2)
	for _, kind := range Kinds() {
		err := s.WithLock(kind, func() error {
			records, err := s.List(ctx, kind)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if isSymlink(rec.Link) {
					continue
				}
				if err := s.Delete(ctx, kind, rec.Source); err != nil {
					return err
				}
				removed[kind]++
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("validate %s: %w", kind, err)
		}
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, kind scanner.Kind) (Record, error) {
	var (
		rec     Record
		created string
	)
	if err := row.Scan(&rec.Source, &rec.Link, &created); err != nil {
		return Record{}, err
	}
	rec.Kind = kind
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = t
	}
	return rec, nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}
