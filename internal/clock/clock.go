// Package clock supplies the institution's civil day and time-of-day.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TimeOfDay is a civil time expressed as seconds since midnight.
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	limits := []int{23, 59, 59}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		vals[i] = v
	}
	return TimeOfDay(vals[0]*3600 + vals[1]*60 + vals[2]), nil
}

// String renders HH:MM:SS.
func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

// Civil is one instant broken down in the institution's local civil time.
type Civil struct {
	Instant time.Time
	Day     time.Weekday
	Time    TimeOfDay
}

// Date renders the calendar date as YYYY-MM-DD.
func (c Civil) Date() string {
	return c.Instant.Format("2006-01-02")
}

// Source supplies the current instant.
type Source interface {
	Now() time.Time
}

// Zone converts instants to civil time in a fixed location, regardless of the
// host machine's TZ setting.
type Zone struct {
	src Source
	loc *time.Location
}

type systemSource struct{}

func (systemSource) Now() time.Time { return time.Now() }

// NewZone returns a Zone reading the system clock in the named IANA location.
func NewZone(name string) (*Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return &Zone{src: systemSource{}, loc: loc}, nil
}

// NewZoneWithSource is NewZone with an explicit instant source.
func NewZoneWithSource(src Source, loc *time.Location) *Zone {
	if loc == nil {
		loc = time.UTC
	}
	return &Zone{src: src, loc: loc}
}

// Location returns the civil location.
func (z *Zone) Location() *time.Location { return z.loc }

// Now returns the current civil day and time.
func (z *Zone) Now() Civil {
	return z.At(z.src.Now())
}

// At converts t into civil time.
func (z *Zone) At(t time.Time) Civil {
	local := t.In(z.loc)
	h, m, s := local.Clock()
	return Civil{
		Instant: local,
		Day:     local.Weekday(),
		Time:    TimeOfDay(h*3600 + m*60 + s),
	}
}

// Fixed is a settable Source for tests and replays.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed returns a Fixed source at t.
func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

// Now returns the current fixed instant.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}
