package replay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PerformanceLogger logs the processing time of each non-empty batch, and how
// far the replayed stream lags behind the window time limit.
func PerformanceLogger(logger *zap.Logger, processor Processor) Processor {
	return func(ctx context.Context, batch Batch) error {
		if len(batch.Records) == 0 {
			return nil
		}
		start := time.Now()
		err := processor(ctx, batch)
		l := logger.With(zap.Int("batch_size", len(batch.Records)),
			zap.Duration("batch_processing_time", time.Since(start)),
			zap.Duration("processor_lateness", time.Duration(batch.TimeLimit-batch.Records[len(batch.Records)-1].ReceptionTimestamp)))
		if err == nil {
			l.Info("stream processed")
		} else {
			l.Error("stream processing failed", zap.Error(err))
		}
		return err
	}
}
