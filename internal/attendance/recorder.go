package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rfidattend/internal/clock"
	"rfidattend/internal/roster"
	"rfidattend/internal/schedule"
)

// Recorder persists admitted scans to the primary store and fans them out to the
// audit sinks in the background. The primary store is the source of truth.
type Recorder struct {
	guard        *Guard
	sinks        []AuditSink
	auditTimeout time.Duration
	logger       *zap.Logger
	metrics      *Metrics

	audits sync.WaitGroup
}

// NewRecorder creates a recorder. sinks may be empty.
func NewRecorder(guard *Guard, logger *zap.Logger, metrics *Metrics, sinks ...AuditSink) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		guard:        guard,
		sinks:        sinks,
		auditTimeout: 2 * time.Second,
		logger:       logger,
		metrics:      metrics,
	}
}

// Record admits and persists one scan. It returns ErrDuplicate when the guard
// rejects the scan and an error wrapping ErrStoreUnavailable on storage failure.
func (r *Recorder) Record(ctx context.Context, ev ScanEvent, at clock.Civil, p roster.Person, slot schedule.Slot) (Record, error) {
	rec := Record{
		ID:         uuid.NewString(),
		CardID:     p.CardID,
		Role:       p.Role,
		PersonID:   p.Identity(),
		Name:       p.Name,
		Class:      slot.Class,
		Batch:      slotBatch(slot),
		Subject:    slot.Subject,
		Kind:       string(slot.Kind),
		SessionKey: schedule.KeyFor(at.Date(), slot).String(),
		ReaderID:   ev.ReaderID,
		ScannedAt:  at.Instant,
		Date:       at.Date(),
		Time:       at.Time.String(),
	}

	saved, err := r.guard.Admit(ctx, rec)
	if err != nil {
		return Record{}, err
	}

	if len(r.sinks) > 0 {
		r.audits.Add(1)
		go r.audit(context.WithoutCancel(ctx), saved)
	}
	return saved, nil
}

// audit appends rec to every sink under one shared deadline. It runs after the
// reader has its answer.
func (r *Recorder) audit(ctx context.Context, rec Record) {
	defer r.audits.Done()
	ctx, cancel := context.WithTimeout(ctx, r.auditTimeout)
	defer cancel()
	for _, sink := range r.sinks {
		if err := sink.Append(ctx, rec); err != nil {
			r.metrics.auditFailed()
			r.logger.Warn("audit append failed",
				zap.String("record_id", rec.ID),
				zap.String("card", rec.CardID),
				zap.Error(err),
			)
		}
	}
}

// Flush waits for in-flight audit appends or ctx, whichever comes first.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.audits.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func slotBatch(s schedule.Slot) string {
	if schedule.IsWildcard(s.Batch) {
		return schedule.WildcardBatch
	}
	return s.Batch
}
