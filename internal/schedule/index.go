package schedule

import (
	"fmt"
	"strings"
	"time"

	"rfidattend/internal/clock"
)

// Overlap is a pair of same-cohort slots whose windows intersect on one day.
// The matcher tolerates these; they are surfaced at load time for follow-up.
type Overlap struct {
	First  Slot
	Second Slot
}

// Index is an immutable weekday-indexed timetable.
type Index struct {
	byDay    map[time.Weekday][]Slot
	total    int
	overlaps []Overlap
}

// NewIndex validates slots and indexes them by weekday, preserving declaration order.
func NewIndex(slots []Slot) (*Index, error) {
	ix := &Index{byDay: make(map[time.Weekday][]Slot)}
	for i, s := range slots {
		if s.Day < time.Sunday || s.Day > time.Saturday {
			return nil, fmt.Errorf("slot %d: invalid weekday %d", i+1, s.Day)
		}
		if s.End < s.Start {
			return nil, fmt.Errorf("slot %d (%s): end before start", i+1, s)
		}
		if strings.TrimSpace(s.Class) == "" {
			return nil, fmt.Errorf("slot %d (%s): class is required", i+1, s)
		}
		s.Seq = i
		ix.byDay[s.Day] = append(ix.byDay[s.Day], s)
	}
	ix.total = len(slots)
	for _, day := range ix.byDay {
		for i := 0; i < len(day); i++ {
			for j := i + 1; j < len(day); j++ {
				a, b := day[i], day[j]
				if strings.EqualFold(strings.TrimSpace(a.Class), strings.TrimSpace(b.Class)) &&
					BatchMatches(a.Batch, b.Batch) &&
					a.Start <= b.End && b.Start <= a.End {
					ix.overlaps = append(ix.overlaps, Overlap{First: a, Second: b})
				}
			}
		}
	}
	return ix, nil
}

// Len returns the number of slots.
func (ix *Index) Len() int { return ix.total }

// Overlaps returns same-cohort overlapping slot pairs found at build time.
func (ix *Index) Overlaps() []Overlap { return ix.overlaps }

// Active returns the slots of day whose window contains t, in declaration order.
func (ix *Index) Active(day time.Weekday, t clock.TimeOfDay) []Slot {
	var out []Slot
	for _, s := range ix.byDay[day] {
		if s.Contains(t) {
			out = append(out, s)
		}
	}
	return out
}

// Day returns every slot of day in declaration order.
func (ix *Index) Day(day time.Weekday) []Slot {
	return append([]Slot(nil), ix.byDay[day]...)
}
