// Package schedule holds the weekly timetable and the active-slot matcher.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"rfidattend/internal/clock"
)

// Kind is the session type of a slot.
type Kind string

const (
	KindLecture   Kind = "lecture"
	KindPractical Kind = "practical"
	KindTutorial  Kind = "tutorial"
)

// WildcardBatch on a slot or assignment matches every batch of the class.
const WildcardBatch = "ALL"

// IsWildcard reports whether batch means "all batches". A blank batch is treated
// the same way because timetable exports frequently leave the column empty.
func IsWildcard(batch string) bool {
	b := strings.TrimSpace(batch)
	return b == "" || b == "*" || strings.EqualFold(b, WildcardBatch)
}

// BatchMatches reports whether two batch descriptors select a common batch.
func BatchMatches(a, b string) bool {
	return IsWildcard(a) || IsWildcard(b) || strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Slot is one weekly scheduled occurrence.
type Slot struct {
	Day     time.Weekday
	Start   clock.TimeOfDay
	End     clock.TimeOfDay
	Class   string
	Batch   string
	Subject string
	Kind    Kind
	StaffID string

	// Seq is the declaration order across the whole timetable.
	Seq int
}

// Contains reports whether t falls within [Start, End], inclusive of both ends.
func (s Slot) Contains(t clock.TimeOfDay) bool {
	return t >= s.Start && t <= s.End
}

// Cohort renders class and batch as "CLASS/BATCH".
func (s Slot) Cohort() string {
	batch := strings.TrimSpace(s.Batch)
	if IsWildcard(batch) {
		batch = WildcardBatch
	}
	return strings.TrimSpace(s.Class) + "/" + batch
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %s-%s %s %s", s.Day, s.Start, s.End, s.Cohort(), s.Subject)
}

// SessionKey identifies one dated occurrence of a slot. The calendar date is part
// of the key so a weekly slot admits one record per card per week, not forever.
type SessionKey struct {
	Date    string
	Start   clock.TimeOfDay
	End     clock.TimeOfDay
	Class   string
	Batch   string
	Subject string
}

// KeyFor builds the session key of slot on the given civil date (YYYY-MM-DD).
func KeyFor(date string, s Slot) SessionKey {
	batch := strings.ToUpper(strings.TrimSpace(s.Batch))
	if IsWildcard(batch) {
		batch = WildcardBatch
	}
	return SessionKey{
		Date:    date,
		Start:   s.Start,
		End:     s.End,
		Class:   strings.ToUpper(strings.TrimSpace(s.Class)),
		Batch:   batch,
		Subject: strings.ToUpper(strings.TrimSpace(s.Subject)),
	}
}

func (k SessionKey) String() string {
	return strings.Join([]string{k.Date, k.Start.String(), k.End.String(), k.Class, k.Batch, k.Subject}, "|")
}
