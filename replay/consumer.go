// Package replay drives a StreamReader window by window, handing the records
// received in each window to a Processor.
package replay

import (
	"context"
	"math"
	"time"

	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Batch holds records received before TimeLimit. Records are loaned to the
// processor for the duration of the call.
type Batch struct {
	TimeLimit int64
	Records   []*record.Record
}

// Processor is a function that will process replayed records
type Processor func(context.Context, Batch) error

// ConsumerOpts describes replay preferences. Timestamps and Window share the
// unit of the recorded reception timestamps, nanoseconds when recorded with the
// system clock.
type ConsumerOpts struct {
	Name          string
	FromTimestamp int64
	Window        time.Duration
	// Speed paces the replay: 1 replays in real time, 2 twice as fast. Zero
	// replays as fast as possible.
	Speed        float64
	MaxBatchSize int
	Middleware   []func(Processor, ConsumerOpts) Processor
}

type consumerOpts func(*ConsumerOpts)

// FromTimestamp sets the time limit of the first window, instead of the
// timestamp of the first record.
func FromTimestamp(ts int64) consumerOpts {
	return func(c *ConsumerOpts) { c.FromTimestamp = ts }
}
func WithWindow(v time.Duration) consumerOpts {
	return func(c *ConsumerOpts) { c.Window = v }
}
func WithSpeed(v float64) consumerOpts {
	return func(c *ConsumerOpts) { c.Speed = v }
}
func WithMaxBatchSize(v int) consumerOpts {
	return func(c *ConsumerOpts) { c.MaxBatchSize = v }
}
func WithName(v string) consumerOpts {
	return func(c *ConsumerOpts) { c.Name = v }
}
func WithPerformanceLogging(logger *zap.Logger) consumerOpts {
	return func(c *ConsumerOpts) {
		c.Middleware = append(c.Middleware, func(p Processor, opts ConsumerOpts) Processor {
			l := logger
			if opts.Name != "" {
				l = l.With(zap.String("consumer_name", opts.Name))
			}
			l = l.With(zap.Int("consumer_max_batch_size", opts.MaxBatchSize))
			return PerformanceLogger(l, p)
		})
	}
}

type Consumer interface {
	Consume(ctx context.Context, sr storage.StreamReader, processor Processor) error
}

type consumer struct {
	opts  ConsumerOpts
	sleep func(context.Context, time.Duration) bool
}

func NewConsumer(opts ...consumerOpts) Consumer {
	config := ConsumerOpts{
		FromTimestamp: math.MinInt64,
		Window:        100 * time.Millisecond,
		MaxBatchSize:  10,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Window <= 0 {
		config.Window = time.Nanosecond
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 1
	}
	return consumer{opts: config, sleep: sleep}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func add(ts, d int64) int64 {
	if ts > math.MaxInt64-d {
		return math.MaxInt64
	}
	return ts + d
}

// Consume replays sr until it is finished or ctx is cancelled. The context is
// only checked between windows.
func (c consumer) Consume(ctx context.Context, sr storage.StreamReader, processor Processor) error {
	for _, middleware := range c.opts.Middleware {
		processor = middleware(processor, c.opts)
	}
	if c.opts.Name != "" {
		ctx = AddFields(ctx, zap.String("consumer_name", c.opts.Name))
	}
	peeker, canPeek := sr.(storage.Peeker)
	window := int64(c.opts.Window)
	limit := c.opts.FromTimestamp
	if limit == math.MinInt64 {
		if !canPeek {
			limit = math.MaxInt64
		} else if next, ok := peeker.NextTimestamp(); ok {
			limit = next
		}
	}
	tracer := otel.Tracer("recstore/replay")
	L(ctx).Debug("replay started", zap.Int64("from_timestamp", limit), zap.Duration("window", c.opts.Window), zap.Float64("speed", c.opts.Speed))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := c.window(ctx, tracer, sr, limit, processor)
		if err != nil {
			return err
		}
		if sr.Finished() || (limit == math.MaxInt64 && n == 0) {
			L(ctx).Debug("replay finished", zap.Int64("last_time_limit", limit))
			return nil
		}
		if c.opts.Speed > 0 {
			if !c.sleep(ctx, time.Duration(float64(window)/c.opts.Speed)) {
				return nil
			}
		} else if canPeek {
			// nothing to pace: jump over idle windows
			if next, ok := peeker.NextTimestamp(); ok && next > add(limit, window) {
				limit = next - window
			}
		}
		limit = add(limit, window)
	}
}

func (c consumer) window(ctx context.Context, tracer trace.Tracer, sr storage.StreamReader, limit int64, processor Processor) (int, error) {
	ctx, span := tracer.Start(ctx, "replay.window", trace.WithAttributes(
		attribute.String("replay.consumer", c.opts.Name),
		attribute.Int64("replay.time_limit", limit),
	))
	defer span.End()
	records, err := sr.Read(limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return 0, err
	}
	defer sr.ReturnLoan(records)
	span.SetAttributes(attribute.Int("replay.record_count", len(records)))
	for start := 0; start < len(records); start += c.opts.MaxBatchSize {
		end := start + c.opts.MaxBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := processor(ctx, Batch{TimeLimit: limit, Records: records[start:end]}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "processing failed")
			return 0, err
		}
	}
	return len(records), nil
}
