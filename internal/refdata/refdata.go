// Package refdata loads the roster and timetable from CSV or XLSX exports.
//
// Column order is fixed and the first row of every file is a header:
//
//	students:    card_id, name, roll_no, class, batch
//	staff:       card_id, name, staff_id
//	assignments: staff_id, subject, class, batch
//	timetable:   day, start, end, class, batch, subject, kind, staff_id
package refdata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rfidattend/internal/attendance"
	"rfidattend/internal/card"
	"rfidattend/internal/clock"
	"rfidattend/internal/roster"
	"rfidattend/internal/schedule"
)

// Sources names the reference files. Assignments is optional.
type Sources struct {
	Students    string
	Staff       string
	Assignments string
	Timetable   string
}

// Loaded is a built snapshot plus the data-quality findings from building it.
type Loaded struct {
	Snapshot  attendance.Snapshot
	Conflicts *roster.ConflictError
	Overlaps  []schedule.Overlap
}

// Load reads every source and builds the directory and schedule index. Roster
// conflicts do not fail the load; they are returned in Loaded.Conflicts.
func Load(src Sources, norm card.Normalizer) (Loaded, error) {
	students, err := LoadStudents(src.Students)
	if err != nil {
		return Loaded{}, err
	}
	staff, err := LoadStaff(src.Staff)
	if err != nil {
		return Loaded{}, err
	}
	if src.Assignments != "" {
		assignments, err := LoadAssignments(src.Assignments)
		if err != nil {
			return Loaded{}, err
		}
		staff = AttachAssignments(staff, assignments)
	}
	slots, err := LoadTimetable(src.Timetable)
	if err != nil {
		return Loaded{}, err
	}

	var out Loaded
	dir, err := roster.Build(students, staff, norm)
	if err != nil {
		var ce *roster.ConflictError
		if !errors.As(err, &ce) {
			return Loaded{}, err
		}
		out.Conflicts = ce
	}
	ix, err := schedule.NewIndex(slots)
	if err != nil {
		return Loaded{}, fmt.Errorf("timetable %s: %w", src.Timetable, err)
	}
	out.Snapshot = attendance.Snapshot{Directory: dir, Index: ix}
	out.Overlaps = ix.Overlaps()
	return out, nil
}

// LoadStudents reads student records. An empty path yields no students.
func LoadStudents(path string) ([]roster.Person, error) {
	if path == "" {
		return nil, nil
	}
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]roster.Person, 0, len(rows))
	for _, r := range rows {
		out = append(out, roster.Person{
			Role:   roster.RoleStudent,
			CardID: r.col(0),
			Name:   r.col(1),
			RollNo: r.col(2),
			Class:  r.col(3),
			Batch:  r.col(4),
		})
	}
	return out, nil
}

// LoadStaff reads staff records. An empty path yields no staff.
func LoadStaff(path string) ([]roster.Person, error) {
	if path == "" {
		return nil, nil
	}
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]roster.Person, 0, len(rows))
	for _, r := range rows {
		out = append(out, roster.Person{
			Role:    roster.RoleStaff,
			CardID:  r.col(0),
			Name:    r.col(1),
			StaffID: r.col(2),
		})
	}
	return out, nil
}

// StaffAssignment is one assignments row.
type StaffAssignment struct {
	StaffID string
	roster.Assignment
}

// LoadAssignments reads teaching assignments.
func LoadAssignments(path string) ([]StaffAssignment, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]StaffAssignment, 0, len(rows))
	for _, r := range rows {
		if r.col(0) == "" {
			return nil, fmt.Errorf("%s line %d: staff_id is required", path, r.line)
		}
		out = append(out, StaffAssignment{
			StaffID: r.col(0),
			Assignment: roster.Assignment{
				Subject: r.col(1),
				Class:   r.col(2),
				Batch:   r.col(3),
			},
		})
	}
	return out, nil
}

// AttachAssignments copies each staff member's assignments onto their record.
// Staff with no rows keep a nil list, which the matcher treats as "no
// assignment data" and falls back to the timetable's staff id.
func AttachAssignments(staff []roster.Person, assignments []StaffAssignment) []roster.Person {
	byID := make(map[string][]roster.Assignment)
	for _, a := range assignments {
		key := strings.ToUpper(a.StaffID)
		byID[key] = append(byID[key], a.Assignment)
	}
	out := make([]roster.Person, len(staff))
	for i, p := range staff {
		if as, ok := byID[strings.ToUpper(p.StaffID)]; ok {
			p.Assignments = as
		}
		out[i] = p
	}
	return out
}

// LoadTimetable reads weekly slots in declaration order.
func LoadTimetable(path string) ([]schedule.Slot, error) {
	if path == "" {
		return nil, nil
	}
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Slot, 0, len(rows))
	for _, r := range rows {
		day, err := ParseWeekday(r.col(0))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, r.line, err)
		}
		start, err := clock.ParseTimeOfDay(r.col(1))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: start: %w", path, r.line, err)
		}
		end, err := clock.ParseTimeOfDay(r.col(2))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: end: %w", path, r.line, err)
		}
		kind, err := ParseKind(r.col(6))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, r.line, err)
		}
		out = append(out, schedule.Slot{
			Day:     day,
			Start:   start,
			End:     end,
			Class:   r.col(3),
			Batch:   r.col(4),
			Subject: r.col(5),
			Kind:    kind,
			StaffID: r.col(7),
		})
	}
	return out, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts English day names, their common abbreviations, or
// 0-6 with 0 as Sunday.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdays[v]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// ParseKind maps a session type column to a Kind. Blank means lecture.
func ParseKind(s string) (schedule.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lecture", "lec", "theory":
		return schedule.KindLecture, nil
	case "practical", "lab", "prac":
		return schedule.KindPractical, nil
	case "tutorial", "tut":
		return schedule.KindTutorial, nil
	default:
		return "", fmt.Errorf("invalid session kind %q", s)
	}
}
