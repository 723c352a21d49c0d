package replay

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"github.com/vx-labs/recstore/storage/memory"
	"github.com/vx-labs/recstore/storage/storagetest"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var sessionCount int64

func stream(t *testing.T, samples []record.Sample) storage.StreamReader {
	dest := fmt.Sprintf("%s-%d", t.Name(), atomic.AddInt64(&sessionCount, 1))
	t.Cleanup(func() { memory.Default.Delete(dest) })
	storagetest.Record(t, memory.Kind, dest, samples)
	r, sr := storagetest.OpenStream(t, memory.Kind, dest, storage.All())
	t.Cleanup(func() {
		sr.Close()
		r.Close()
	})
	return sr
}

type collector struct {
	batches []Batch
	seqs    []uint64
}

func (c *collector) process(ctx context.Context, batch Batch) error {
	for _, r := range batch.Records {
		c.seqs = append(c.seqs, r.SequenceNumber)
	}
	// records are loaned: keep the batch without them
	c.batches = append(c.batches, Batch{TimeLimit: batch.TimeLimit, Records: make([]*record.Record, len(batch.Records))})
	return nil
}

type brokenStream struct {
	storage.StreamReader
	err error
}

func (b brokenStream) Read(int64) ([]*record.Record, error) { return nil, b.err }
func (b brokenStream) Finished() bool                       { return false }

func TestConsumer(t *testing.T) {
	t.Run("should replay every record in order", func(t *testing.T) {
		sr := stream(t, storagetest.Samples(40))
		c := &collector{}
		err := NewConsumer(WithWindow(35), WithMaxBatchSize(2)).Consume(context.Background(), sr, c.process)
		require.NoError(t, err)
		require.Len(t, c.seqs, 40)
		for idx, seq := range c.seqs {
			require.Equal(t, uint64(idx), seq)
		}
		for _, batch := range c.batches {
			require.True(t, len(batch.Records) <= 2)
		}
		require.Equal(t, int64(10), c.batches[0].TimeLimit)
		require.True(t, sr.Finished())
	})
	t.Run("should skip idle windows", func(t *testing.T) {
		sr := stream(t, []record.Sample{{Timestamp: 10}, {Timestamp: 1 << 40}})
		c := &collector{}
		err := NewConsumer(WithWindow(1)).Consume(context.Background(), sr, c.process)
		require.NoError(t, err)
		require.Equal(t, []uint64{0, 1}, c.seqs)
		require.Equal(t, int64(1<<40), c.batches[1].TimeLimit)
	})
	t.Run("should start from the given timestamp", func(t *testing.T) {
		sr := stream(t, storagetest.Samples(10))
		c := &collector{}
		err := NewConsumer(FromTimestamp(55), WithWindow(100), WithMaxBatchSize(100)).Consume(context.Background(), sr, c.process)
		require.NoError(t, err)
		require.Len(t, c.batches, 2)
		require.Equal(t, int64(55), c.batches[0].TimeLimit)
		require.Len(t, c.batches[0].Records, 5)
		require.Len(t, c.seqs, 10)
	})
	t.Run("should pace the replay", func(t *testing.T) {
		sr := stream(t, storagetest.Samples(4))
		var slept []time.Duration
		consumer := NewConsumer(WithWindow(10), WithSpeed(2)).(consumer)
		consumer.sleep = func(_ context.Context, d time.Duration) bool {
			slept = append(slept, d)
			return true
		}
		c := &collector{}
		require.NoError(t, consumer.Consume(context.Background(), sr, c.process))
		require.Len(t, c.seqs, 4)
		require.Equal(t, []time.Duration{5, 5, 5}, slept)
	})
	t.Run("should stop on processor errors", func(t *testing.T) {
		sr := stream(t, storagetest.Samples(4))
		failure := errors.New("processor failure")
		calls := 0
		err := NewConsumer(WithMaxBatchSize(1)).Consume(context.Background(), sr, func(context.Context, Batch) error {
			calls++
			return failure
		})
		require.Equal(t, failure, err)
		require.Equal(t, 1, calls)
	})
	t.Run("should return read errors", func(t *testing.T) {
		failure := storage.FormatError(nil, "broken record")
		err := NewConsumer(FromTimestamp(0)).Consume(context.Background(), brokenStream{err: failure}, func(context.Context, Batch) error {
			return nil
		})
		require.True(t, errors.Is(err, storage.ErrFormat))
	})
	t.Run("should stop when cancelled", func(t *testing.T) {
		sr := stream(t, storagetest.Samples(4))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := &collector{}
		require.NoError(t, NewConsumer().Consume(ctx, sr, c.process))
		require.Empty(t, c.seqs)
	})
	t.Run("should read everything at once without a time origin", func(t *testing.T) {
		sr := stream(t, storagetest.Samples(4))
		c := &collector{}
		err := NewConsumer(WithMaxBatchSize(10)).Consume(context.Background(), struct{ storage.StreamReader }{sr}, c.process)
		require.NoError(t, err)
		require.Len(t, c.batches, 1)
		require.Equal(t, int64(math.MaxInt64), c.batches[0].TimeLimit)
	})
}

func TestPerformanceLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sr := stream(t, storagetest.Samples(6))
	c := &collector{}
	err := NewConsumer(WithName("test"), FromTimestamp(100), WithWindow(1000), WithMaxBatchSize(3), WithPerformanceLogging(zap.New(core))).
		Consume(context.Background(), sr, c.process)
	require.NoError(t, err)
	entries := logs.FilterMessage("stream processed").All()
	require.Len(t, entries, 2)
	require.Equal(t, "test", entries[0].ContextMap()["consumer_name"])
	require.Equal(t, int64(3), entries[0].ContextMap()["batch_size"])
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(previous)

	sr := stream(t, storagetest.Samples(3))
	require.NoError(t, NewConsumer(WithWindow(10)).Consume(context.Background(), sr, (&collector{}).process))
	spans := recorder.Ended()
	require.Len(t, spans, 3)
	for _, span := range spans {
		require.Equal(t, "replay.window", span.Name())
	}
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := StoreLogger(context.Background(), zap.New(core))
	ctx = AddFields(ctx, zap.String("consumer_name", "test"))
	L(ctx).Info("hello")
	require.Equal(t, 1, logs.FilterField(zap.String("consumer_name", "test")).Len())
	require.NotNil(t, L(context.Background()))
}
