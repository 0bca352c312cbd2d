package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy selects how repeat scans are suppressed.
type Policy string

const (
	// PolicyWindow rejects a card accepted within the last Window.
	PolicyWindow Policy = "window"
	// PolicySession rejects a second record for the same (card, session key).
	PolicySession Policy = "session"
)

// DefaultWindow is the reference suppression window.
const DefaultWindow = 10 * time.Minute

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyWindow, PolicySession:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown dedup policy %q", s)
	}
}

// Guard performs the admission check and the conditional insert as one step.
type Guard struct {
	policy Policy
	window time.Duration
	repo   Repository
	locker Locker
}

// NewGuard builds a guard. locker is only used by the window policy.
func NewGuard(policy Policy, window time.Duration, repo Repository, locker Locker) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{policy: policy, window: window, repo: repo, locker: locker}
}

// Policy returns the configured policy.
func (g *Guard) Policy() Policy { return g.policy }

// Admit inserts rec unless it duplicates an earlier accepted scan, in which case
// ErrDuplicate is returned and nothing is written.
func (g *Guard) Admit(ctx context.Context, rec Record) (Record, error) {
	switch g.policy {
	case PolicySession:
		rec.DedupKey = rec.SessionKey
		return insert(ctx, g.repo, rec)
	default:
		rec.DedupKey = ""
		return g.admitWindow(ctx, rec)
	}
}

func (g *Guard) admitWindow(ctx context.Context, rec Record) (Record, error) {
	var saved Record
	err := g.locker.WithLock(ctx, rec.CardID, g.repo, func(ctx context.Context, repo Repository) error {
		prev, err := repo.LatestForCard(ctx, rec.CardID)
		if err != nil {
			return fmt.Errorf("%w: latest for card: %w", ErrStoreUnavailable, err)
		}
		if prev != nil && withinWindow(prev.ScannedAt, rec.ScannedAt, g.window) {
			return ErrDuplicate
		}
		saved, err = insert(ctx, repo, rec)
		return err
	})
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrStoreUnavailable):
		return Record{}, err
	default:
		// Acquiring or committing the lock failed.
		return Record{}, fmt.Errorf("%w: lock card: %w", ErrStoreUnavailable, err)
	}
}

func insert(ctx context.Context, repo Repository, rec Record) (Record, error) {
	saved, err := repo.Insert(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("%w: insert: %w", ErrStoreUnavailable, err)
	}
	return saved, nil
}

// withinWindow compares whole elapsed seconds; a prior record stamped after now
// (clock step backwards) counts as inside the window.
func withinWindow(prev, now time.Time, window time.Duration) bool {
	elapsed := int64(now.Sub(prev) / time.Second)
	return elapsed < int64(window/time.Second)
}
