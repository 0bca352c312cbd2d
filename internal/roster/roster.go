// Package roster holds the immutable card directory and identity resolution.
package roster

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"rfidattend/internal/card"
)

// Role is the PersonRecord variant.
type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
)

// Assignment is one (subject, class, batch) a staff member teaches.
type Assignment struct {
	Subject string
	Class   string
	Batch   string
}

// Person is a student or staff record keyed by card.
type Person struct {
	Role   Role
	Name   string
	CardID string

	// Student fields.
	RollNo string
	Class  string
	Batch  string

	// Staff fields. Nil Assignments means assignment data is unavailable.
	StaffID     string
	Assignments []Assignment
}

// Identity is the stable identifier written to attendance records.
func (p Person) Identity() string {
	switch {
	case p.Role == RoleStaff && p.StaffID != "":
		return p.StaffID
	case p.RollNo != "":
		return p.RollNo
	default:
		return p.CardID
	}
}

var (
	ErrUnknownCard   = errors.New("unknown card")
	ErrAmbiguousCard = errors.New("card enrolled more than once")
)

// ConflictKind classifies a load-time collision.
type ConflictKind string

const (
	ConflictEmptyCard ConflictKind = "empty_card"
	ConflictSameRole  ConflictKind = "duplicate_card"
	ConflictCrossRole ConflictKind = "student_staff_collision"
)

// Conflict describes one data-quality problem found while building the directory.
type Conflict struct {
	Kind   ConflictKind
	CardID string
	Names  []string
}

// ConflictError aggregates every collision found by Build. The directory is still
// usable: duplicate same-role cards resolve as ambiguous, cross-role cards prefer
// the student record.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s %q (%s)", c.Kind, c.CardID, strings.Join(c.Names, ", ")))
	}
	return fmt.Sprintf("roster: %d conflict(s): %s", len(e.Conflicts), strings.Join(parts, "; "))
}

// Directory is an immutable lookup of people by normalized card id.
type Directory struct {
	norm      card.Normalizer
	students  map[string]Person
	staff     map[string]Person
	ambiguous map[string]struct{}
}

// Build indexes students and staff by normalized card id. A non-nil directory is
// always returned; err is a *ConflictError when the input violates card uniqueness.
func Build(students, staff []Person, norm card.Normalizer) (*Directory, error) {
	d := &Directory{
		norm:      norm,
		students:  make(map[string]Person, len(students)),
		staff:     make(map[string]Person, len(staff)),
		ambiguous: make(map[string]struct{}),
	}
	var conflicts []Conflict
	dupNames := make(map[string][]string)

	add := func(into map[string]Person, p Person, role Role) {
		p.Role = role
		id := norm.Normalize(p.CardID)
		if id == "" {
			conflicts = append(conflicts, Conflict{Kind: ConflictEmptyCard, CardID: p.CardID, Names: []string{p.Name}})
			return
		}
		p.CardID = id
		if _, dup := d.ambiguous[id]; dup {
			dupNames[id] = append(dupNames[id], p.Name)
			return
		}
		if prev, ok := into[id]; ok {
			delete(into, id)
			d.ambiguous[id] = struct{}{}
			dupNames[id] = append(dupNames[id], prev.Name, p.Name)
			return
		}
		into[id] = p
	}
	for _, p := range students {
		add(d.students, p, RoleStudent)
	}
	for _, p := range staff {
		add(d.staff, p, RoleStaff)
	}

	ids := make([]string, 0, len(dupNames))
	for id := range dupNames {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		conflicts = append(conflicts, Conflict{Kind: ConflictSameRole, CardID: id, Names: dupNames[id]})
	}
	for _, id := range sortedKeys(d.students) {
		if st, ok := d.staff[id]; ok {
			conflicts = append(conflicts, Conflict{
				Kind:   ConflictCrossRole,
				CardID: id,
				Names:  []string{d.students[id].Name, st.Name},
			})
		}
	}

	if len(conflicts) > 0 {
		return d, &ConflictError{Conflicts: conflicts}
	}
	return d, nil
}

func sortedKeys(m map[string]Person) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalizer returns the normalizer the directory was built with.
func (d *Directory) Normalizer() card.Normalizer { return d.norm }

// Counts reports the number of resolvable students and staff.
func (d *Directory) Counts() (students, staff int) {
	return len(d.students), len(d.staff)
}
