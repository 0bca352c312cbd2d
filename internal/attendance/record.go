package attendance

import (
	"context"
	"errors"
	"time"

	"rfidattend/internal/roster"
)

// Record is an accepted, persisted scan. It is written once and never mutated.
type Record struct {
	ID         string
	CardID     string
	Role       roster.Role
	PersonID   string
	Name       string
	Class      string
	Batch      string
	Subject    string
	Kind       string
	SessionKey string
	// DedupKey is the session key under the session policy and empty under the
	// time-window policy. Stores enforce uniqueness of (CardID, DedupKey) when set.
	DedupKey  string
	ReaderID  string
	ScannedAt time.Time
	Date      string
	Time      string
	CreatedAt time.Time
}

// Cohort renders class and batch as "CLASS/BATCH".
func (r Record) Cohort() string {
	return r.Class + "/" + r.Batch
}

var (
	// ErrDuplicate is returned by stores when (card, dedup key) already exists, and
	// by the guard when the card was accepted inside the suppression window.
	ErrDuplicate = errors.New("duplicate scan")
	// ErrStoreUnavailable wraps failures reaching the durable store.
	ErrStoreUnavailable = errors.New("attendance store unavailable")
)

// Filter narrows ListRecords. Without After, records come newest first and are
// paged by Offset. With After, records come oldest first in (ScannedAt, ID)
// order strictly past the cursor and Offset is ignored, so rows inserted while
// a caller pages are neither repeated nor skipped.
type Filter struct {
	Date   string
	CardID string
	Limit  int
	Offset int
	After  *Cursor
}

// Cursor is a position in (ScannedAt, ID) order. The zero Cursor sorts before
// every record.
type Cursor struct {
	ScannedAt time.Time
	ID        string
}

// CursorOf returns the cursor positioned at rec.
func CursorOf(rec Record) *Cursor {
	return &Cursor{ScannedAt: rec.ScannedAt, ID: rec.ID}
}

// Repository is the durable store of attendance records.
type Repository interface {
	// Insert persists rec. It returns ErrDuplicate when rec.DedupKey is set and a
	// record with the same (CardID, DedupKey) exists.
	Insert(ctx context.Context, rec Record) (Record, error)
	// LatestForCard returns the most recent record for a normalized card, or nil.
	LatestForCard(ctx context.Context, cardID string) (*Record, error)
	ListRecords(ctx context.Context, f Filter) ([]Record, error)
	Ping(ctx context.Context) error
}

// Locker serializes work per key across concurrent scans. fn runs while key is
// held and must use the repository it is handed, which may be repo itself or a
// view of it bound to the lock's own database session.
type Locker interface {
	WithLock(ctx context.Context, key string, repo Repository, fn func(ctx context.Context, repo Repository) error) error
}

// AuditSink receives accepted records after the primary write. Failures are
// reported by the recorder and never undo the primary record.
type AuditSink interface {
	Append(ctx context.Context, rec Record) error
}
