package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"rfidattend/internal/attendance"
	"rfidattend/internal/roster"
)

const pgUniqueViolation = "23505"

// queryer is the subset of *sql.DB and *sql.Tx the repository needs.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres persists attendance records in Postgres.
type Postgres struct {
	db *sql.DB
	q  queryer
}

// NewPostgres creates a repository over an open pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// inTx returns a repository whose statements run inside tx.
func (p *Postgres) inTx(tx *sql.Tx) *Postgres {
	return &Postgres{db: p.db, q: tx}
}

const recordColumns = `id, card_id, role, person_id, name, class, batch, subject, kind,
	session_key, dedup_key, reader_id, scanned_at, scan_date, scan_time, created_at`

// Insert writes a new record. A conflicting (card_id, dedup_key) is reported as
// attendance.ErrDuplicate.
func (p *Postgres) Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	row := p.q.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, card_id, role, person_id, name, class, batch, subject, kind,
			session_key, dedup_key, reader_id, scanned_at, scan_date, scan_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (card_id, dedup_key) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.CardID, string(rec.Role), rec.PersonID, rec.Name, rec.Class, rec.Batch, rec.Subject, rec.Kind,
		rec.SessionKey, nullable(rec.DedupKey), rec.ReaderID, rec.ScannedAt, rec.Date, rec.Time)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Record{}, attendance.ErrDuplicate
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return attendance.Record{}, attendance.ErrDuplicate
		}
		return attendance.Record{}, err
	}
	return rec, nil
}

// LatestForCard returns the most recent record for cardID, or nil.
func (p *Postgres) LatestForCard(ctx context.Context, cardID string) (*attendance.Record, error) {
	row := p.q.QueryRowContext(ctx, `SELECT `+recordColumns+`
		FROM attendance_records
		WHERE card_id = $1
		ORDER BY scanned_at DESC, id DESC
		LIMIT 1
	`, cardID)
	rec, err := scanRecord(row.Scan)
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
func (p *Postgres) ListRecords(ctx context.Context, f attendance.Filter) ([]attendance.Record, error) {
	limit, offset := pageBounds(f)
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	var (
		args    []any
		clauses []string
	)
	if f.Date != "" {
		args = append(args, f.Date)
		clauses = append(clauses, fmt.Sprintf("scan_date = $%d", len(args)))
	}
	if f.CardID != "" {
		args = append(args, f.CardID)
		clauses = append(clauses, fmt.Sprintf("card_id = $%d", len(args)))
	}
	if f.After != nil {
		// An empty ID cannot be cast to uuid; the zero cursor only needs the time bound.
		if f.After.ID == "" {
			args = append(args, f.After.ScannedAt)
			clauses = append(clauses, fmt.Sprintf("scanned_at >= $%d", len(args)))
		} else {
			args = append(args, f.After.ScannedAt, f.After.ID)
			clauses = append(clauses, fmt.Sprintf("(scanned_at, id) > ($%d, $%d::uuid)", len(args)-1, len(args)))
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.After != nil {
		query += fmt.Sprintf(" ORDER BY scanned_at, id LIMIT $%d", len(args)+1)
		args = append(args, limit)
	} else {
		query += fmt.Sprintf(" ORDER BY scanned_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Ping verifies connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func scanRecord(scan func(dest ...any) error) (attendance.Record, error) {
	var (
		rec   attendance.Record
		role  string
		dedup sql.NullString
	)
	if err := scan(&rec.ID, &rec.CardID, &role, &rec.PersonID, &rec.Name, &rec.Class, &rec.Batch, &rec.Subject, &rec.Kind,
		&rec.SessionKey, &dedup, &rec.ReaderID, &rec.ScannedAt, &rec.Date, &rec.Time, &rec.CreatedAt); err != nil {
		return attendance.Record{}, err
	}
	rec.Role = roster.Role(role)
	rec.DedupKey = dedup.String
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func pageBounds(f attendance.Filter) (limit, offset int) {
	limit, offset = f.Limit, f.Offset
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// AdvisoryLocker serializes a card across API instances sharing one database.
// The lock is transaction scoped and the guarded work runs in that same
// transaction, so a held lock never waits on a second pooled connection.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker returns a locker over db.
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// WithLock opens a transaction, takes pg_advisory_xact_lock for key and runs fn
// against a repository bound to the transaction. The lock is released by the
// commit or rollback. A *Postgres repo is rebound to the transaction; any other
// repository is handed to fn unchanged.
func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, repo attendance.Repository, fn func(context.Context, attendance.Repository) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return err
	}
	bound := repo
	if pg, ok := repo.(*Postgres); ok {
		bound = pg.inTx(tx)
	}
	if err := fn(ctx, bound); err != nil {
		return err
	}
	return tx.Commit()
}
