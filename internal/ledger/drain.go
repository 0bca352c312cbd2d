package ledger

import (
	"context"

	"go.uber.org/zap"

	"rfidattend/internal/queue"
)

// Drain appends every ledger message from q to f until ctx ends. Malformed
// messages are logged and dropped; append failures are logged and the entry is
// lost from the ledger only, never from the primary store.
func Drain(ctx context.Context, q queue.Queue, f *File, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		e, err := Decode(msg)
		if err != nil {
			logger.Warn("skipping queue message", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		// Finish the line even if shutdown began after the pop.
		if err := f.AppendEntry(context.WithoutCancel(ctx), e); err != nil {
			logger.Error("ledger append failed", zap.String("record_id", e.RecordID), zap.Error(err))
			continue
		}
		logger.Debug("ledger entry appended", zap.String("record_id", e.RecordID), zap.String("card", e.CardID))
	}
	return nil
}
