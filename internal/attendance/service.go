package attendance

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"rfidattend/internal/clock"
	"rfidattend/internal/roster"
	"rfidattend/internal/schedule"
)

// ScanEvent is one card read as received from a reader.
type ScanEvent struct {
	RawCard  string
	ReaderID string
	// At is the server-observed arrival time; zero means "now".
	At time.Time
}

// Decision is the result of one scan.
type Decision struct {
	Outcome Outcome
	Record  *Record
	Person  *roster.Person
	Slot    *schedule.Slot
}

// Snapshot is the reference data the pipeline decides against.
type Snapshot struct {
	Directory *roster.Directory
	Index     *schedule.Index
}

type reference struct {
	resolver *roster.Resolver
	matcher  *schedule.Matcher
}

// Options tunes the pipeline.
type Options struct {
	// KeepAlive lists raw tokens readers send as heartbeats.
	KeepAlive []string
	// StoreTimeout bounds every scan's access to the durable store.
	StoreTimeout time.Duration
}

// Service runs the scan pipeline: resolve, match, dedup, record.
type Service struct {
	ref          atomic.Pointer[reference]
	zone         *clock.Zone
	recorder     *Recorder
	keepAlive    map[string]struct{}
	storeTimeout time.Duration
	logger       *zap.Logger
	metrics      *Metrics
	tracer       trace.Tracer
}

// NewService creates a service over an initial reference snapshot.
func NewService(snap Snapshot, zone *clock.Zone, recorder *Recorder, opts Options, logger *zap.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	s := &Service{
		zone:         zone,
		recorder:     recorder,
		keepAlive:    make(map[string]struct{}, len(opts.KeepAlive)),
		storeTimeout: opts.StoreTimeout,
		logger:       logger,
		metrics:      metrics,
		tracer:       otel.Tracer("rfidattend/attendance"),
	}
	for _, tok := range opts.KeepAlive {
		if tok = strings.ToUpper(strings.TrimSpace(tok)); tok != "" {
			s.keepAlive[tok] = struct{}{}
		}
	}
	s.Reload(snap)
	return s
}

// Reload atomically replaces the directory and timetable. In-flight scans finish
// against the snapshot they started with.
func (s *Service) Reload(snap Snapshot) {
	s.ref.Store(&reference{
		resolver: roster.NewResolver(snap.Directory),
		matcher:  schedule.NewMatcher(snap.Index),
	})
}

// Submit decides one scan. It never returns an error: every failure becomes an
// Outcome.
func (s *Service) Submit(ctx context.Context, ev ScanEvent) Decision {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "attendance.Submit")
	defer span.End()

	d := s.decide(ctx, ev)

	span.SetAttributes(
		attribute.String("scan.outcome", string(d.Outcome)),
		attribute.String("scan.reader", ev.ReaderID),
	)
	s.metrics.observe(d.Outcome, time.Since(start))
	return d
}

func (s *Service) decide(ctx context.Context, ev ScanEvent) Decision {
	raw := strings.TrimSpace(ev.RawCard)
	if raw == "" {
		s.logger.Debug("scan without card id", zap.String("reader", ev.ReaderID))
		return Decision{Outcome: NoCard}
	}
	if _, ok := s.keepAlive[strings.ToUpper(raw)]; ok {
		return Decision{Outcome: Ignored}
	}

	ref := s.ref.Load()
	if ref.resolver.Normalize(raw) == "" {
		s.logger.Debug("card id empty after normalization", zap.String("raw_card", raw))
		return Decision{Outcome: NoCard}
	}
	res, err := ref.resolver.Resolve(raw)
	switch {
	case errors.Is(err, roster.ErrAmbiguousCard):
		s.metrics.rosterIssue("ambiguous_card")
		s.logger.Warn("card enrolled more than once; fix roster", zap.String("raw_card", raw), zap.String("reader", ev.ReaderID))
		return Decision{Outcome: UnknownCard}
	case err != nil:
		s.logger.Info("unknown card", zap.String("raw_card", raw), zap.String("reader", ev.ReaderID))
		return Decision{Outcome: UnknownCard}
	}
	person := res.Person
	if res.CrossRole {
		s.metrics.rosterIssue("student_staff_collision")
		s.logger.Warn("card enrolled as both student and staff; using student record",
			zap.String("card", person.CardID), zap.String("name", person.Name))
	}

	at := s.zone.Now()
	if !ev.At.IsZero() {
		at = s.zone.At(ev.At)
	}

	active := ref.matcher.ActiveSlots(at)
	if len(active) == 0 {
		s.logger.Info("no active slot",
			zap.String("card", person.CardID), zap.String("day", at.Day.String()), zap.String("time", at.Time.String()))
		return Decision{Outcome: NoActiveSlot, Person: &person}
	}
	slot, ok := ref.matcher.EligibleSlot(person, active)
	if !ok {
		outcome := StudentNotEligible
		if person.Role == roster.RoleStaff {
			outcome = StaffNotScheduled
		}
		s.logger.Info("not eligible for active slots",
			zap.String("card", person.CardID), zap.String("role", string(person.Role)), zap.Int("active", len(active)))
		return Decision{Outcome: outcome, Person: &person}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	rec, err := s.recorder.Record(storeCtx, ev, at, person, slot)
	switch {
	case errors.Is(err, ErrDuplicate):
		s.logger.Info("duplicate scan suppressed",
			zap.String("card", person.CardID), zap.String("session", schedule.KeyFor(at.Date(), slot).String()))
		return Decision{Outcome: DuplicateScan, Person: &person, Slot: &slot}
	case err != nil:
		s.logger.Error("record scan failed", zap.String("card", person.CardID), zap.Error(err))
		return Decision{Outcome: StorageError, Person: &person, Slot: &slot}
	}

	s.logger.Info("scan accepted",
		zap.String("record_id", rec.ID),
		zap.String("card", rec.CardID),
		zap.String("role", string(rec.Role)),
		zap.String("cohort", rec.Cohort()),
		zap.String("subject", rec.Subject),
	)
	return Decision{Outcome: Accepted, Record: &rec, Person: &person, Slot: &slot}
}
