package ledger

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rfidattend/internal/attendance"
	"rfidattend/internal/queue"
	"rfidattend/internal/roster"
)

func sample() attendance.Record {
	return attendance.Record{
		ID:       "rec-1",
		CardID:   "A1B2",
		Role:     roster.RoleStudent,
		Name:     "Asha",
		Class:    "10A",
		Batch:    "B1",
		Subject:  "MATH",
		ReaderID: "gate-1",
		Date:     "2026-10-19",
		Time:     "09:30:00",
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestFileAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "ledger.csv")
	l, err := NewFile(path)
	if err != nil {
		t.Fatalf("new file: %v", err)
	}
	if err := l.Append(context.Background(), sample()); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Reopening must not repeat the header.
	l2, err := NewFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec := sample()
	rec.ID, rec.Name = "rec-2", "Ravi, Jr."
	if err := l2.Append(context.Background(), rec); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "date" {
		t.Fatalf("header = %v", rows[0])
	}
	want := []string{"2026-10-19", "09:30:00", "student", "Asha", "A1B2", "10A/B1", "MATH", "rec-1"}
	for i, v := range want {
		if rows[1][i] != v {
			t.Fatalf("row[1][%d] = %q, want %q", i, rows[1][i], v)
		}
	}
	if rows[2][3] != "Ravi, Jr." {
		t.Fatalf("quoted name = %q", rows[2][3])
	}
}

func TestFileAppendCancelled(t *testing.T) {
	l, err := NewFile(filepath.Join(t.TempDir(), "ledger.csv"))
	if err != nil {
		t.Fatalf("new file: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Append(ctx, sample()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestPublisherRoundTrip(t *testing.T) {
	q := queue.NewInMemory(2)
	p := NewPublisher(q)
	if err := p.Append(context.Background(), sample()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := q.Consume(ctx)
	select {
	case msg := <-ch:
		e, err := Decode(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if e.RecordID != "rec-1" || e.Cohort != "10A/B1" || e.ReaderID != "gate-1" {
			t.Fatalf("entry = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
}

func TestDecodeRejectsOtherTypes(t *testing.T) {
	if _, err := Decode(queue.Message{Type: "other", Body: []byte(`{}`)}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("new file: %v", err)
	}
	q := queue.NewInMemory(4)
	p := NewPublisher(q)
	if err := p.Append(context.Background(), sample()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(context.Background(), queue.Message{Type: "junk"}); err != nil {
		t.Fatalf("publish junk: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Drain(ctx, q, f, nil) }()

	deadline := time.After(2 * time.Second)
	for {
		if rows := readRows(t, path); len(rows) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("entry not appended")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("drain: %v", err)
	}
}
