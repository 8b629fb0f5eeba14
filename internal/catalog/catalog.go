// Package catalog indexes accepted assets in a SQLite database at the
// dataset root. The CSV ledgers remain the record of truth; the catalog
// answers duplicate-content lookups and report queries.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ligustah/harvest/pkg/dataset"
)

//go:embed schema.sql
var schema string

// ErrDuplicate is returned by Insert when the image id, path or content
// hash is already catalogued.
var ErrDuplicate = errors.New("catalog: asset already catalogued")

// Entry is one catalogued asset.
type Entry struct {
	dataset.AcceptedAsset
	Source      string
	URL         string
	MirroredKey string
}

// Count is the number of assets for one label and partition.
type Count struct {
	Label     string
	Partition dataset.Partition
	N         int
}

// Store is a SQLite-backed catalog.
type Store struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens or creates the catalog at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog: path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert records an accepted asset.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ImageID == "" || e.SHA256 == "" || e.RelativePath == "" {
		return fmt.Errorf("catalog: image id, path and sha256 are required")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (
		   image_id, relative_path, label, split, format, sha256,
		   size, scrubbed, source, url, created_at, mirrored_key
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ImageID,
		e.RelativePath,
		e.Label,
		string(e.Partition),
		e.Format,
		e.SHA256,
		e.Size,
		boolInt(e.Scrubbed),
		e.Source,
		e.URL,
		toMillis(created),
		e.MirroredKey,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, e.ImageID)
		}
		return fmt.Errorf("catalog: insert %s: %w", e.ImageID, err)
	}
	return nil
}

// LookupSHA256 returns the entry holding the given content hash.
func (s *Store) LookupSHA256(ctx context.Context, sha string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT image_id, relative_path, label, split, format, sha256,
		        size, scrubbed, source, url, created_at, mirrored_key
		   FROM assets WHERE sha256 = ?`, sha)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("catalog: lookup sha256: %w", err)
	}
	return e, true, nil
}

// SetMirrored records the object key an asset was published under.
func (s *Store) SetMirrored(ctx context.Context, imageID, key string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assets SET mirrored_key = ? WHERE image_id = ?`, key, imageID)
	if err != nil {
		return fmt.Errorf("catalog: set mirrored %s: %w", imageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: set mirrored %s: %w", imageID, sql.ErrNoRows)
	}
	return nil
}

// Counts returns asset counts grouped by label and partition.
func (s *Store) Counts(ctx context.Context) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, split, COUNT(*) FROM assets
		  GROUP BY label, split ORDER BY label, split`)
	if err != nil {
		return nil, fmt.Errorf("catalog: counts: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		var p string
		if err := rows.Scan(&c.Label, &p, &c.N); err != nil {
			return nil, fmt.Errorf("catalog: scan count: %w", err)
		}
		c.Partition = dataset.Partition(p)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Recent returns the n most recently catalogued entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT image_id, relative_path, label, split, format, sha256,
		        size, scrubbed, source, url, created_at, mirrored_key
		   FROM assets ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("catalog: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (Entry, error) {
	var (
		e         Entry
		partition string
		scrubbed  int
		created   int64
	)
	err := r.Scan(&e.ImageID, &e.RelativePath, &e.Label, &partition, &e.Format, &e.SHA256,
		&e.Size, &scrubbed, &e.Source, &e.URL, &created, &e.MirroredKey)
	if err != nil {
		return Entry{}, err
	}
	e.Partition = dataset.Partition(partition)
	e.Scrubbed = scrubbed != 0
	e.CreatedAt = fromMillis(created)
	return e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
