package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ── fake Repository ──

type fakeRepo struct {
	mu        sync.Mutex
	records   []Record
	insertErr error
	latestErr error
}

func newFakeRepo() *fakeRepo { return &fakeRepo{} }

func (f *fakeRepo) Insert(_ context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	if rec.DedupKey != "" {
		for _, r := range f.records {
			if r.CardID == rec.CardID && r.DedupKey == rec.DedupKey {
				return Record{}, ErrDuplicate
			}
		}
	}
	rec.CreatedAt = rec.ScannedAt
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeRepo) LatestForCard(_ context.Context, cardID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	var latest *Record
	for i := range f.records {
		r := f.records[i]
		if r.CardID != cardID {
			continue
		}
		if latest == nil || r.ScannedAt.After(latest.ScannedAt) {
			latest = &r
		}
	}
	return latest, nil
}

func (f *fakeRepo) ListRecords(_ context.Context, flt Filter) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, r := range f.records {
		if flt.CardID != "" && r.CardID != flt.CardID {
			continue
		}
		if flt.Date != "" && r.Date != flt.Date {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScannedAt.After(out[j].ScannedAt) })
	return out, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// ── fake Locker ──

type fakeLocker struct {
	mu  sync.Mutex
	err error
	// bound, when set, replaces the guard's repository inside the lock.
	bound Repository
}

func (l *fakeLocker) WithLock(ctx context.Context, _ string, repo Repository, fn func(context.Context, Repository) error) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bound != nil {
		repo = l.bound
	}
	return fn(ctx, repo)
}

// ── fake AuditSink ──

type fakeSink struct {
	mu   sync.Mutex
	got  []Record
	fail bool
	// block, when set, holds every Append until it is closed.
	block chan struct{}
}

var errSinkDown = errors.New("ledger disk full")

func (s *fakeSink) Append(ctx context.Context, rec Record) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkDown
	}
	s.got = append(s.got, rec)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}
