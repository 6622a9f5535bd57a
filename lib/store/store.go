// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists source documents and parsed layout tables in
// a local sqlite database. Parsed results live in per-group tables
// (parsed_1, parsed_2, ...) so different pipeline configurations can
// coexist without clobbering each other.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Register the pure-Go sqlite driver

	"github.com/antflydb/silverfish/lib/geometry"
	"github.com/antflydb/silverfish/lib/layout"
)

// ErrNotFound is returned when a report or result is absent.
var ErrNotFound = errors.New("not found in store")

// DefaultGroup is the result group used when callers do not care about
// keeping runs separate.
const DefaultGroup = 1

// Report is a stored source document.
type Report struct {
	Name     string
	Source   string
	Document []byte
}

// Result is one stored parse outcome.
type Result struct {
	Name    string
	Source  string
	Records []layout.Record
}

// Store wraps the sqlite database. Writes are serialized through a
// single connection; sqlite allows one writer at a time anyway.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and ensures the
// reports table exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS reports (
		report_name TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		pdf BLOB
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating reports table: %w", err)
	}

	return &Store{db: db, logger: logger.Named("store")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReport stores a source document, skipping silently when a report
// with the same name already exists. Returns whether a row was written.
func (s *Store) SaveReport(ctx context.Context, r Report) (bool, error) {
	if r.Name == "" {
		return false, errors.New("report name must not be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reports (report_name, source, pdf) VALUES (?, ?, ?)`,
		r.Name, r.Source, r.Document)
	if err != nil {
		return false, fmt.Errorf("saving report %s: %w", r.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Report fetches a stored source document by name.
func (s *Store) Report(ctx context.Context, name string) (*Report, error) {
	r := Report{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT source, pdf FROM reports WHERE report_name = ?`, name).
		Scan(&r.Source, &r.Document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching report %s: %w", name, err)
	}
	return &r, nil
}

// ListReports returns all stored report names, sorted.
func (s *Store) ListReports(ctx context.Context) ([]string, error) {
	return s.listNames(ctx, `SELECT report_name FROM reports ORDER BY report_name`)
}

// HasResult reports whether a parse result for name exists in group.
func (s *Store) HasResult(ctx context.Context, group int, name string) (bool, error) {
	table, err := s.ensureResultTable(ctx, group)
	if err != nil {
		return false, err
	}
	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE report_name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking result %s: %w", name, err)
	}
	return n > 0, nil
}

// SaveResult stores the parsed records for a report, one row per
// record, skipping silently when the report already has rows in the
// group. Returns whether rows were written.
func (s *Store) SaveResult(ctx context.Context, group int, name, source string, records []layout.Record) (bool, error) {
	if name == "" {
		return false, errors.New("report name must not be empty")
	}
	table, err := s.ensureResultTable(ctx, group)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting result transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE report_name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("checking result %s: %w", name, err)
	}
	if n > 0 {
		s.logger.Debug("Result already stored, skipping",
			zap.String("report", name),
			zap.Int("group", group))
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+`
		(report_name, source, page_index, position, bbox, label, text, layout_ppi)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, fmt.Errorf("preparing result insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		bbox, err := sonic.Marshal(rec.BBox)
		if err != nil {
			return false, fmt.Errorf("encoding bbox for %s: %w", name, err)
		}
		if _, err := stmt.ExecContext(ctx, name, source,
			rec.PageIndex, rec.Position, string(bbox), rec.Label, rec.Text, rec.LayoutPPI); err != nil {
			return false, fmt.Errorf("inserting result row for %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing result for %s: %w", name, err)
	}
	s.logger.Debug("Result stored",
		zap.String("report", name),
		zap.Int("group", group),
		zap.Int("rows", len(records)))
	return true, nil
}

// Result fetches the stored records for a report in table order.
func (s *Store) Result(ctx context.Context, group int, name string) (*Result, error) {
	table, err := s.ensureResultTable(ctx, group)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source, page_index, position, bbox, label, text, layout_ppi
		FROM `+table+` WHERE report_name = ? ORDER BY page_index, position`, name)
	if err != nil {
		return nil, fmt.Errorf("fetching result %s: %w", name, err)
	}
	defer rows.Close()

	result := Result{Name: name}
	for rows.Next() {
		var (
			rec  layout.Record
			box  string
			text sql.NullString
		)
		if err := rows.Scan(&result.Source, &rec.PageIndex, &rec.Position, &box, &rec.Label, &text, &rec.LayoutPPI); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		var bbox geometry.BBox
		if err := sonic.Unmarshal([]byte(box), &bbox); err != nil {
			return nil, fmt.Errorf("decoding bbox for %s: %w", name, err)
		}
		rec.BBox = bbox
		if text.Valid {
			rec.Text = &text.String
		}
		result.Records = append(result.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("result %s: %w", name, ErrNotFound)
	}
	return &result, nil
}

// ListResults returns the report names with stored rows in group,
// sorted.
func (s *Store) ListResults(ctx context.Context, group int) ([]string, error) {
	table, err := s.ensureResultTable(ctx, group)
	if err != nil {
		return nil, err
	}
	return s.listNames(ctx, `SELECT DISTINCT report_name FROM `+table+` ORDER BY report_name`)
}

// Groups returns the result groups present in the database, sorted.
func (s *Store) Groups(ctx context.Context) ([]int, error) {
	names, err := s.listNames(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'parsed_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var groups []int
	for _, name := range names {
		n, err := strconv.Atoi(strings.TrimPrefix(name, "parsed_"))
		if err != nil {
			continue
		}
		groups = append(groups, n)
	}
	return groups, nil
}

func (s *Store) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing store rows: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning store row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ensureResultTable creates the group's result table if needed and
// returns its name. Group numbers are embedded in the table name, so
// they must be positive integers.
func (s *Store) ensureResultTable(ctx context.Context, group int) (string, error) {
	if group <= 0 {
		return "", fmt.Errorf("result group must be positive, got %d", group)
	}
	table := "parsed_" + strconv.Itoa(group)
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		report_name TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		page_index INTEGER NOT NULL,
		position INTEGER NOT NULL,
		bbox TEXT NOT NULL,
		label TEXT NOT NULL,
		text TEXT,
		layout_ppi INTEGER NOT NULL
	)`)
	if err != nil {
		return "", fmt.Errorf("creating result table %s: %w", table, err)
	}
	return table, nil
}
