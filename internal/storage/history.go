// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/util"
)

// =============================================================================
// STORED RECORD TYPES
// =============================================================================

// Record is one persisted question and answer.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Question  string    `json:"question"`

	// Answer is the raw backend text; Text is the interpreted narrative.
	Answer string `json:"answer"`
	Text   string `json:"text"`

	Followups []string          `json:"followups"`
	Citations []answer.Citation `json:"citations"`

	Err        string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// RecordMeta contains metadata for listing history.
type RecordMeta struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Preview       string    `json:"preview"`
	CitationCount int       `json:"citation_count"`
	Failed        bool      `json:"failed,omitempty"`
}

// Parsed returns the interpreted answer.
func (r *Record) Parsed() answer.Parsed {
	return answer.Parsed{Text: r.Text, Followups: r.Followups, Citations: r.Citations}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("history record not found")

// =============================================================================
// STORE
// =============================================================================

// DefaultMaxRecords bounds the history size.
const DefaultMaxRecords = 500

const schema = `
CREATE TABLE IF NOT EXISTS answers (
	id          TEXT PRIMARY KEY,
	created_at  INTEGER NOT NULL,
	question    TEXT NOT NULL,
	answer      TEXT NOT NULL,
	text        TEXT NOT NULL,
	followups   TEXT NOT NULL,
	citations   TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_answers_created ON answers(created_at DESC);
`

// Store persists answers in a SQLite database.
type Store struct {
	db   *sql.DB
	path string

	// MaxRecords limits stored answers (0 = unlimited).
	MaxRecords int
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{db: db, path: path, MaxRecords: DefaultMaxRecords}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a finished turn with its parsed answer. Saving the same turn
// again replaces the earlier record.
func (s *Store) Save(ctx context.Context, turn *model.Turn, parsed answer.Parsed) error {
	if turn == nil {
		return errors.New("nil turn")
	}

	followups, err := json.Marshal(nonNil(parsed.Followups))
	if err != nil {
		return fmt.Errorf("failed to encode followups: %w", err)
	}
	citations := parsed.Citations
	if citations == nil {
		citations = []answer.Citation{}
	}
	cites, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("failed to encode citations: %w", err)
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO answers
			(id, created_at, question, answer, text, followups, citations, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, createdAt.UnixNano(), turn.Question, turn.Content(), parsed.Text,
		string(followups), string(cites), turn.Err, turn.TotalDuration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}

	if s.MaxRecords > 0 {
		if err := s.enforceLimit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// enforceLimit removes the oldest records beyond MaxRecords.
func (s *Store) enforceLimit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM answers WHERE id NOT IN (
			SELECT id FROM answers ORDER BY created_at DESC LIMIT ?
		)`, s.MaxRecords)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

const selectRecord = `SELECT id, created_at, question, answer, text, followups, citations, error, duration_ms FROM answers`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec       Record
		createdAt int64
		followups string
		citations string
	)
	if err := row.Scan(&rec.ID, &createdAt, &rec.Question, &rec.Answer, &rec.Text,
		&followups, &citations, &rec.Err, &rec.DurationMs); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	if err := json.Unmarshal([]byte(followups), &rec.Followups); err != nil {
		return nil, fmt.Errorf("corrupt followups for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(citations), &rec.Citations); err != nil {
		return nil, fmt.Errorf("corrupt citations for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// Get retrieves a record by ID. A unique ID prefix is accepted too.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load answer: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE id LIKE ? ESCAPE '\' LIMIT 2`, escapeLike(id)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to load answer: %w", err)
	}
	defer rows.Close()

	var matches []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous id prefix %q", id)
	}
}

// GetByIndex loads a record by its position in List (1 = most recent).
func (s *Store) GetByIndex(ctx context.Context, index int) (*Record, error) {
	if index < 1 {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		selectRecord+` ORDER BY created_at DESC LIMIT 1 OFFSET ?`, index-1))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load answer: %w", err)
	}
	return rec, nil
}

// Lookup resolves a user-supplied reference: a list index or an ID prefix.
func (s *Store) Lookup(ctx context.Context, ref string) (*Record, error) {
	if n, err := strconv.Atoi(ref); err == nil && n > 0 && n < 10000 {
		return s.GetByIndex(ctx, n)
	}
	return s.Get(ctx, ref)
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns the most recent records first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]RecordMeta, error) {
	return s.query(ctx, "", limit)
}

// Search finds records whose question or answer contains query,
// case-insensitively.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]RecordMeta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, limit)
	}
	return s.query(ctx, query, limit)
}

func (s *Store) query(ctx context.Context, search string, limit int) ([]RecordMeta, error) {
	q := `SELECT id, created_at, question, citations, error FROM answers`
	var args []any
	if search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		q += ` WHERE lower(question) LIKE ? ESCAPE '\' OR lower(answer) LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var metas []RecordMeta
	for rows.Next() {
		var (
			meta      RecordMeta
			createdAt int64
			question  string
			citations string
			errText   string
		)
		if err := rows.Scan(&meta.ID, &createdAt, &question, &citations, &errText); err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		var cites []answer.Citation
		_ = json.Unmarshal([]byte(citations), &cites)

		meta.CreatedAt = time.Unix(0, createdAt)
		meta.Preview = util.TruncateWidth(util.SingleLine(question), 80)
		meta.CitationCount = len(cites)
		meta.Failed = errText != ""
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a record by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete answer: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Clear removes every record and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM answers`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatList formats history metadata as a table for the terminal.
func FormatList(metas []RecordMeta) string {
	if len(metas) == 0 {
		return "No saved answers."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-4s %-10s %-17s %-5s %s\n", "#", "ID", "Created", "Refs", "Question"))
	sb.WriteString(strings.Repeat("-", 72) + "\n")
	for i, m := range metas {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		preview := util.TruncateWidth(m.Preview, 40)
		if m.Failed {
			preview = util.TruncateWidth("(failed) "+m.Preview, 40)
		}
		sb.WriteString(fmt.Sprintf("%-4d %-10s %-17s %-5d %s\n",
			i+1, id, m.CreatedAt.Format("2006-01-02 15:04"), m.CitationCount, preview))
	}
	return sb.String()
}

// ExportMarkdown formats a record as Markdown with its source list.
func (r *Record) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + util.SingleLine(r.Question) + "\n\n")
	sb.WriteString("Asked: " + r.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString(r.Text)
	sb.WriteString("\n")

	if len(r.Citations) > 0 {
		sb.WriteString("\n## Sources\n\n")
		for _, c := range r.Citations {
			sb.WriteString(fmt.Sprintf("%d. %s\n", c.Index, c.Label))
		}
	}
	if len(r.Followups) > 0 {
		sb.WriteString("\n## Follow-up questions\n\n")
		for _, f := range r.Followups {
			sb.WriteString("- " + f + "\n")
		}
	}
	if r.Err != "" {
		sb.WriteString("\n> Error: " + r.Err + "\n")
	}
	return sb.String()
}

// ExportJSON returns the record as indented JSON.
func (r *Record) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
