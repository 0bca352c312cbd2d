package schedule

import (
	"strings"

	"rfidattend/internal/clock"
	"rfidattend/internal/roster"
)

// Matcher selects the single slot a person may attend right now.
type Matcher struct {
	ix *Index
}

// NewMatcher returns a matcher over ix.
func NewMatcher(ix *Index) *Matcher {
	return &Matcher{ix: ix}
}

// ActiveSlots returns the slots active at the civil instant c.
func (m *Matcher) ActiveSlots(c clock.Civil) []Slot {
	return m.ix.Active(c.Day, c.Time)
}

// EligibleSlot returns the first slot in active that p may attend. Ties between
// overlapping slots go to the one declared first in the timetable.
func (m *Matcher) EligibleSlot(p roster.Person, active []Slot) (Slot, bool) {
	for _, s := range active {
		if eligible(p, s) {
			return s, true
		}
	}
	return Slot{}, false
}

func eligible(p roster.Person, s Slot) bool {
	switch p.Role {
	case roster.RoleStudent:
		return sameText(p.Class, s.Class) && (IsWildcard(s.Batch) || sameText(p.Batch, s.Batch))
	case roster.RoleStaff:
		if strings.TrimSpace(p.StaffID) == "" || !sameText(p.StaffID, s.StaffID) {
			return false
		}
		if len(p.Assignments) == 0 {
			return true
		}
		for _, a := range p.Assignments {
			if sameText(a.Subject, s.Subject) && sameText(a.Class, s.Class) && BatchMatches(a.Batch, s.Batch) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func sameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
