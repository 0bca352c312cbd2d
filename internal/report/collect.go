package report

import (
	"context"

	"rfidattend/internal/attendance"
)

const pageSize = 500

// Lister reads persisted records a page at a time.
type Lister interface {
	ListRecords(ctx context.Context, f attendance.Filter) ([]attendance.Record, error)
}

// Collect reads every record stamped with date, oldest first. Pages follow a
// (scanned_at, id) cursor, so scans accepted while collecting cannot shift a
// row across a page boundary.
func Collect(ctx context.Context, l Lister, date string) ([]attendance.Record, error) {
	var out []attendance.Record
	after := &attendance.Cursor{}
	for {
		page, err := l.ListRecords(ctx, attendance.Filter{Date: date, Limit: pageSize, After: after})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		after = attendance.CursorOf(page[len(page)-1])
	}
}
