package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"plaindex/pkg/common"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS indexes (
	name        TEXT PRIMARY KEY,
	build_id    TEXT NOT NULL,
	epsilon     INTEGER NOT NULL,
	policy      TEXT NOT NULL,
	dataset_len INTEGER NOT NULL,
	fingerprint INTEGER NOT NULL,
	segments    INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	source_fmt  TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS breakpoints (
	name    TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	bp_key  INTEGER NOT NULL,
	bp_rank INTEGER NOT NULL,
	slope   REAL NOT NULL,
	PRIMARY KEY (name, seq)
);`

// SQLite keeps one row per index and one row per breakpoint.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: init schema: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: set pragmas: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Save(ctx context.Context, e Entry) error {
	if err := validName(e.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO indexes
		(name, build_id, epsilon, policy, dataset_len, fingerprint, segments, created_at, source, source_fmt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.BuildID, int64(e.Epsilon), e.Policy, int64(e.DatasetLen),
		int64(e.Fingerprint), len(e.Breakpoints), e.CreatedAt.UnixMilli(),
		e.Source, e.SourceFormat); err != nil {
		return fmt.Errorf("catalog: save %s: %w", e.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM breakpoints WHERE name = ?", e.Name); err != nil {
		return fmt.Errorf("catalog: save %s: %w", e.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO breakpoints (name, seq, bp_key, bp_rank, slope) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, bp := range e.Breakpoints {
		if _, err := stmt.ExecContext(ctx, e.Name, i, int64(bp.Key), int64(bp.Rank), bp.Slope); err != nil {
			return fmt.Errorf("catalog: save %s breakpoint %d: %w", e.Name, i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Load(ctx context.Context, name string) (Entry, error) {
	var (
		e                       Entry
		eps, dsLen, fp, created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT name, build_id, epsilon, policy, dataset_len, fingerprint, segments, created_at, source, source_fmt
		FROM indexes WHERE name = ?`, name).
		Scan(&e.Name, &e.BuildID, &eps, &e.Policy, &dsLen, &fp, &e.Segments, &created, &e.Source, &e.SourceFormat)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("catalog: %s: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: load %s: %w", name, err)
	}
	e.Epsilon = uint32(eps)
	e.DatasetLen = uint64(dsLen)
	e.Fingerprint = uint64(fp)
	e.CreatedAt = time.UnixMilli(created).UTC()

	rows, err := s.db.QueryContext(ctx, "SELECT bp_key, bp_rank, slope FROM breakpoints WHERE name = ? ORDER BY seq ASC", name)
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: load %s: %w", name, err)
	}
	defer rows.Close()
	e.Breakpoints = make([]common.Breakpoint, 0, e.Segments)
	for rows.Next() {
		var k, r int64
		var slope float64
		if err := rows.Scan(&k, &r, &slope); err != nil {
			return Entry{}, err
		}
		e.Breakpoints = append(e.Breakpoints, common.Breakpoint{Key: common.KeyType(k), Rank: uint64(r), Slope: slope})
	}
	if err := rows.Err(); err != nil {
		return Entry{}, err
	}
	if len(e.Breakpoints) != e.Segments {
		return Entry{}, fmt.Errorf("%w: catalog entry %s has %d breakpoints, expected %d",
			common.ErrCorruptFormat, name, len(e.Breakpoints), e.Segments)
	}
	return e, nil
}

func (s *SQLite) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, build_id, epsilon, policy, dataset_len, fingerprint, segments, created_at, source, source_fmt
		FROM indexes ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		var m Meta
		var eps, dsLen, fp, created int64
		if err := rows.Scan(&m.Name, &m.BuildID, &eps, &m.Policy, &dsLen, &fp, &m.Segments, &created, &m.Source, &m.SourceFormat); err != nil {
			return nil, err
		}
		m.Epsilon = uint32(eps)
		m.DatasetLen = uint64(dsLen)
		m.Fingerprint = uint64(fp)
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM indexes WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: %s: %w", name, common.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM breakpoints WHERE name = ?", name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Close() error { return s.db.Close() }
