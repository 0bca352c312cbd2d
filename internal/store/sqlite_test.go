package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"rfidattend/internal/attendance"
	"rfidattend/internal/roster"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "attendance.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleRecord(id, card, dedup string, at time.Time) attendance.Record {
	return attendance.Record{
		ID:         id,
		CardID:     card,
		Role:       roster.RoleStudent,
		PersonID:   "R-01",
		Name:       "Asha",
		Class:      "10A",
		Batch:      "B1",
		Subject:    "MATH",
		Kind:       "lecture",
		SessionKey: "2026-10-19|09:00:00|10:00:00|10A|B1|MATH",
		DedupKey:   dedup,
		ReaderID:   "gate-1",
		ScannedAt:  at,
		Date:       at.Format("2006-01-02"),
		Time:       at.Format("15:04:05"),
	}
}

func TestSQLiteInsertAndLatest(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, time.October, 19, 9, 5, 0, 0, time.UTC)

	if _, err := db.Insert(ctx, sampleRecord("r1", "A1B2", "", base)); err != nil {
		t.Fatalf("insert r1: %v", err)
	}
	if _, err := db.Insert(ctx, sampleRecord("r2", "A1B2", "", base.Add(15*time.Minute))); err != nil {
		t.Fatalf("insert r2: %v", err)
	}

	latest, err := db.LatestForCard(ctx, "A1B2")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != "r2" {
		t.Fatalf("latest = %+v, want r2", latest)
	}
	if !latest.ScannedAt.Equal(base.Add(15 * time.Minute)) {
		t.Fatalf("scanned_at = %s", latest.ScannedAt)
	}
	if latest.Role != roster.RoleStudent || latest.DedupKey != "" {
		t.Fatalf("role/dedup round trip: %+v", latest)
	}

	none, err := db.LatestForCard(ctx, "ZZZZ")
	if err != nil || none != nil {
		t.Fatalf("unknown card latest = %+v, %v", none, err)
	}
}

func TestSQLiteDedupKeyUnique(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, time.October, 19, 9, 5, 0, 0, time.UTC)
	key := "2026-10-19|09:00:00|10:00:00|10A|B1|MATH"

	if _, err := db.Insert(ctx, sampleRecord("r1", "A1B2", key, at)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := db.Insert(ctx, sampleRecord("r2", "A1B2", key, at.Add(time.Minute)))
	if !errors.Is(err, attendance.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if _, err := db.Insert(ctx, sampleRecord("r3", "C3D4", key, at)); err != nil {
		t.Fatalf("other card same session: %v", err)
	}
}

func TestSQLiteRepeatedIDIsDuplicate(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, time.October, 19, 9, 5, 0, 0, time.UTC)
	if _, err := db.Insert(ctx, sampleRecord("r1", "A1B2", "", at)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.Insert(ctx, sampleRecord("r1", "A1B2", "", at)); !errors.Is(err, attendance.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestSQLiteListRecords(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	day1 := time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	for i, rec := range []attendance.Record{
		sampleRecord("a", "A1B2", "", day1),
		sampleRecord("b", "C3D4", "", day1.Add(time.Minute)),
		sampleRecord("c", "A1B2", "", day2),
	} {
		if _, err := db.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	all, err := db.ListRecords(ctx, attendance.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("list all = %d records, first %q", len(all), firstID(all))
	}

	byDate, err := db.ListRecords(ctx, attendance.Filter{Date: "2026-10-19"})
	if err != nil {
		t.Fatalf("list by date: %v", err)
	}
	if len(byDate) != 2 {
		t.Fatalf("by date = %d, want 2", len(byDate))
	}

	byCard, err := db.ListRecords(ctx, attendance.Filter{Date: "2026-10-19", CardID: "A1B2"})
	if err != nil {
		t.Fatalf("list by card: %v", err)
	}
	if len(byCard) != 1 || byCard[0].ID != "a" {
		t.Fatalf("by card = %+v", byCard)
	}

	page, err := db.ListRecords(ctx, attendance.Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Fatalf("page = %+v", page)
	}
}

func TestSQLiteListRecordsAfterCursor(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)

	// Same instant for b, a and c; id breaks the tie.
	for _, rec := range []attendance.Record{
		sampleRecord("b", "C3D4", "", at),
		sampleRecord("a", "A1B2", "", at),
		sampleRecord("d", "E5F6", "", at.Add(time.Second)),
		sampleRecord("c", "G7H8", "", at),
	} {
		if _, err := db.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}

	var ids []string
	after := &attendance.Cursor{}
	for {
		page, err := db.ListRecords(ctx, attendance.Filter{Date: "2026-10-19", Limit: 2, Offset: 99, After: after})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, r := range page {
			ids = append(ids, r.ID)
		}
		if len(page) < 2 {
			break
		}
		after = attendance.CursorOf(page[len(page)-1])
	}
	if got := strings.Join(ids, ","); got != "a,b,c,d" {
		t.Fatalf("order = %s, want a,b,c,d", got)
	}
}

func firstID(recs []attendance.Record) string {
	if len(recs) == 0 {
		return ""
	}
	return recs[0].ID
}

func TestSQLiteWithGuard(t *testing.T) {
	db := openTestSQLite(t)
	g := attendance.NewGuard(attendance.PolicySession, 0, db, NewMemoryLocker())
	at := time.Date(2026, time.October, 19, 9, 5, 0, 0, time.UTC)

	rec := sampleRecord("g1", "A1B2", "", at)
	if _, err := g.Admit(context.Background(), rec); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	rec.ID = "g2"
	rec.ScannedAt = at.Add(30 * time.Minute)
	if _, err := g.Admit(context.Background(), rec); !errors.Is(err, attendance.ErrDuplicate) {
		t.Fatalf("second admit err = %v, want ErrDuplicate", err)
	}
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		in                    attendance.Filter
		wantLimit, wantOffset int
	}{
		{attendance.Filter{}, 50, 0},
		{attendance.Filter{Limit: 10, Offset: 5}, 10, 5},
		{attendance.Filter{Limit: 1000, Offset: -3}, 50, 0},
	}
	for _, tt := range tests {
		limit, offset := pageBounds(tt.in)
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Errorf("pageBounds(%+v) = %d,%d want %d,%d", tt.in, limit, offset, tt.wantLimit, tt.wantOffset)
		}
	}
}
