// Package ledger keeps the append-only audit trail of accepted scans. It is a
// derived view; the primary store stays authoritative.
package ledger

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rfidattend/internal/attendance"
	"rfidattend/internal/queue"
)

// MessageType tags ledger entries on the queue.
const MessageType = "attendance.recorded"

// Entry is one ledger line.
type Entry struct {
	RecordID string `json:"record_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	CardID   string `json:"card_id"`
	Cohort   string `json:"cohort"`
	Subject  string `json:"subject"`
	ReaderID string `json:"reader_id,omitempty"`
}

// EntryFor projects an accepted record into a ledger entry.
func EntryFor(rec attendance.Record) Entry {
	return Entry{
		RecordID: rec.ID,
		Date:     rec.Date,
		Time:     rec.Time,
		Role:     string(rec.Role),
		Name:     rec.Name,
		CardID:   rec.CardID,
		Cohort:   rec.Cohort(),
		Subject:  rec.Subject,
		ReaderID: rec.ReaderID,
	}
}

var header = []string{"date", "time", "role", "name", "card_id", "cohort", "subject", "record_id"}

func (e Entry) row() []string {
	return []string{e.Date, e.Time, e.Role, e.Name, e.CardID, e.Cohort, e.Subject, e.RecordID}
}

// File appends entries to a CSV file. Lines are never rewritten.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates the file (and its directory) with a header row if missing.
func NewFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
	}
	return &File{path: path}, nil
}

// Path returns the ledger location.
func (l *File) Path() string { return l.path }

// Append writes rec as one line. It satisfies attendance.AuditSink.
func (l *File) Append(ctx context.Context, rec attendance.Record) error {
	return l.AppendEntry(ctx, EntryFor(rec))
}

// AppendEntry writes one line and syncs it to disk.
func (l *File) AppendEntry(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(e.row()); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Publisher hands entries to a queue for the worker to append.
type Publisher struct {
	q queue.Queue
}

// NewPublisher wraps q as an audit sink.
func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

// Append publishes rec. It satisfies attendance.AuditSink.
func (p *Publisher) Append(ctx context.Context, rec attendance.Record) error {
	body, err := json.Marshal(EntryFor(rec))
	if err != nil {
		return err
	}
	if err := p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		return fmt.Errorf("publish ledger entry: %w", err)
	}
	return nil
}

// Decode turns a queue message back into an entry.
func Decode(msg queue.Message) (Entry, error) {
	if msg.Type != MessageType {
		return Entry{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var e Entry
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return Entry{}, fmt.Errorf("decode ledger entry: %w", err)
	}
	return e, nil
}
