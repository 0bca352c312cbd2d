package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"rfidattend/internal/attendance"
	"rfidattend/internal/roster"
)

// SQLite persists attendance records in a single-node SQLite file. All access
// goes through one connection, so writes are serialized by the pool.
type SQLite struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clean := filepath.Clean(path)
	if dir := filepath.Dir(clean); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := clean + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := MigrateSQLite(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert writes a new record; a conflicting (card_id, dedup_key) is reported as
// attendance.ErrDuplicate.
func (s *SQLite) Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	if err := ctx.Err(); err != nil {
		return attendance.Record{}, err
	}
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, card_id, role, person_id, name, class, batch, subject, kind,
			session_key, dedup_key, reader_id, scanned_at, scan_date, scan_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CardID, string(rec.Role), rec.PersonID, rec.Name, rec.Class, rec.Batch, rec.Subject, rec.Kind,
		rec.SessionKey, nullable(rec.DedupKey), rec.ReaderID, toMillis(rec.ScannedAt), rec.Date, rec.Time, toMillis(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return attendance.Record{}, attendance.ErrDuplicate
		}
		return attendance.Record{}, err
	}
	return rec, nil
}

// LatestForCard returns the most recent record for cardID, or nil.
func (s *SQLite) LatestForCard(ctx context.Context, cardID string) (*attendance.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+`
		FROM attendance_records
		WHERE card_id = ?
		ORDER BY scanned_at DESC
		LIMIT 1`, cardID)
	rec, err := scanSQLiteRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns records newest first with basic filters, or oldest first
// past f.After when a cursor is given.
func (s *SQLite) ListRecords(ctx context.Context, f attendance.Filter) ([]attendance.Record, error) {
	limit, offset := pageBounds(f)
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	var (
		args    []any
		clauses []string
	)
	if f.Date != "" {
		clauses = append(clauses, "scan_date = ?")
		args = append(args, f.Date)
	}
	if f.CardID != "" {
		clauses = append(clauses, "card_id = ?")
		args = append(args, f.CardID)
	}
	if f.After != nil {
		clauses = append(clauses, "(scanned_at, id) > (?, ?)")
		args = append(args, toMillis(f.After.ScannedAt), f.After.ID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.After != nil {
		query += " ORDER BY scanned_at, id LIMIT ?"
		args = append(args, limit)
	} else {
		query += " ORDER BY scanned_at DESC, id DESC LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []attendance.Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Ping verifies the handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanSQLiteRecord(scan func(dest ...any) error) (attendance.Record, error) {
	var (
		rec              attendance.Record
		role             string
		dedup            sql.NullString
		scanned, created int64
	)
	if err := scan(&rec.ID, &rec.CardID, &role, &rec.PersonID, &rec.Name, &rec.Class, &rec.Batch, &rec.Subject, &rec.Kind,
		&rec.SessionKey, &dedup, &rec.ReaderID, &scanned, &rec.Date, &rec.Time, &created); err != nil {
		return attendance.Record{}, err
	}
	rec.Role = roster.Role(role)
	rec.DedupKey = dedup.String
	rec.ScannedAt = fromMillis(scanned)
	rec.CreatedAt = fromMillis(created)
	return rec, nil
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
