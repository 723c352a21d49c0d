// Package storagetest holds the behaviour every storage backend must exhibit.
package storagetest

import (
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.uber.org/zap/zaptest"
)

// Destination returns an unused destination for the backend under test.
type Destination func(t *testing.T) string

// Clock is a manually driven storage.Clock.
type Clock struct {
	mtx sync.Mutex
	now time.Time
}

func NewClock(ns int64) *Clock {
	return &Clock{now: time.Unix(0, ns)}
}

func (c *Clock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.now
}

func (c *Clock) Set(ns int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.now = time.Unix(0, ns)
}

// Samples returns n valid samples, received every 10 time units from 10.
func Samples(n int) []record.Sample {
	out := make([]record.Sample, n)
	for idx := range out {
		out[idx] = record.Sample{
			Timestamp: int64(10 * (idx + 1)),
			Valid:     idx%3 != 1,
			Data:      record.Payload{ID: int32(idx), Msg: "hello world"},
		}
	}
	return out
}

// Record writes samples to a new session stored under dest, then closes it.
// It returns the actual session destination.
func Record(t *testing.T, kind, dest string, samples []record.Sample, opts ...storage.Option) string {
	w, err := storage.OpenWriter(kind, dest, opts...)
	require.NoError(t, err)
	if len(samples) > 0 {
		require.NoError(t, w.Append(samples))
	}
	require.Equal(t, uint64(len(samples)), w.StoredCount())
	require.NoError(t, w.Close())
	return w.Destination()
}

// OpenStream opens the recorded stream of the session stored under dest.
func OpenStream(t *testing.T, kind, dest string, sel storage.Selector, opts ...storage.Option) (storage.Reader, storage.StreamReader) {
	r, err := storage.OpenReader(kind, dest, opts...)
	require.NoError(t, err)
	infos := r.StreamInfoReader().Read()
	require.Len(t, infos, 1)
	sr, err := r.StreamReader(infos[0], sel)
	require.NoError(t, err)
	return r, sr
}

// Drain reads sr up to limit, copying and returning the loaned records.
func Drain(t *testing.T, sr storage.StreamReader, limit int64) []record.Record {
	out := []record.Record{}
	for !sr.Finished() {
		batch, err := sr.Read(limit)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, r := range batch {
			out = append(out, *r)
		}
		sr.ReturnLoan(batch)
	}
	return out
}

func expected(samples []record.Sample) []record.Record {
	out := make([]record.Record, len(samples))
	for idx, s := range samples {
		out[idx] = record.Record{SequenceNumber: uint64(idx), ReceptionTimestamp: s.Timestamp, Valid: s.Valid}
		if s.Valid {
			out[idx].Data = s.Data
		}
	}
	return out
}

// Run exercises the backend registered under kind.
func Run(t *testing.T, kind string, dest Destination, opts ...storage.Option) {
	with := func(t *testing.T, extra ...storage.Option) []storage.Option {
		return append(append([]storage.Option{storage.WithLogger(zaptest.NewLogger(t))}, opts...), extra...)
	}
	t.Run("should replay records in time order", func(t *testing.T) {
		samples := []record.Sample{
			{Timestamp: 100, Valid: true, Data: record.Payload{ID: 1, Msg: "first"}},
			{Timestamp: 200, Valid: false},
			{Timestamp: 300, Valid: true, Data: record.Payload{ID: 3, Msg: "third"}},
		}
		d := Record(t, kind, dest(t), samples, with(t)...)
		r, sr := OpenStream(t, kind, d, storage.All(), with(t)...)
		defer r.Close()
		defer sr.Close()
		want := expected(samples)
		for idx, limit := range []int64{150, 250, 1000} {
			require.False(t, sr.Finished())
			batch, err := sr.Read(limit)
			require.NoError(t, err)
			require.Len(t, batch, 1)
			require.Equal(t, want[idx], *batch[0])
			sr.ReturnLoan(batch)
		}
		require.True(t, sr.Finished())
		batch, err := sr.Read(math.MaxInt64)
		require.NoError(t, err)
		require.Empty(t, batch)
	})
	t.Run("should return a monotonic prefix for increasing limits", func(t *testing.T) {
		samples := Samples(40)
		d := Record(t, kind, dest(t), samples, with(t)...)
		r, sr := OpenStream(t, kind, d, storage.All(), with(t)...)
		defer r.Close()
		defer sr.Close()
		got := []record.Record{}
		for limit := int64(0); limit <= 420; limit += 35 {
			batch, err := sr.Read(limit)
			require.NoError(t, err)
			for _, rec := range batch {
				require.True(t, rec.ReceptionTimestamp <= limit)
				got = append(got, *rec)
			}
			sr.ReturnLoan(batch)
			require.Equal(t, expected(samples)[:len(got)], got)
		}
		require.Equal(t, expected(samples), got)
		require.True(t, sr.Finished())
	})
	t.Run("should replay identically after reset", func(t *testing.T) {
		samples := Samples(10)
		d := Record(t, kind, dest(t), samples, with(t)...)
		r, sr := OpenStream(t, kind, d, storage.All(), with(t)...)
		defer r.Close()
		defer sr.Close()
		first := Drain(t, sr, 55)
		require.NoError(t, sr.Reset())
		require.False(t, sr.Finished())
		require.Equal(t, first, Drain(t, sr, 55))
		require.NoError(t, sr.Reset())
		require.NoError(t, sr.Reset())
		require.Equal(t, expected(samples), Drain(t, sr, math.MaxInt64))
	})
	t.Run("should read empty sessions", func(t *testing.T) {
		d := Record(t, kind, dest(t), nil, with(t)...)
		r, sr := OpenStream(t, kind, d, storage.All(), with(t)...)
		defer r.Close()
		defer sr.Close()
		require.True(t, sr.Finished())
		batch, err := sr.Read(math.MaxInt64)
		require.NoError(t, err)
		require.Empty(t, batch)
	})
	t.Run("should refuse use after close", func(t *testing.T) {
		w, err := storage.OpenWriter(kind, dest(t), with(t)...)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.True(t, errors.Is(w.Close(), storage.ErrAlreadyClosed))
		require.True(t, errors.Is(w.Append(Samples(1)), storage.ErrAlreadyClosed))
	})
	t.Run("should not find missing sessions", func(t *testing.T) {
		_, err := storage.OpenReader(kind, dest(t), with(t)...)
		require.Error(t, err)
		require.True(t, errors.Is(err, storage.ErrNotFound), err.Error())
	})
	t.Run("should honor selectors", func(t *testing.T) {
		samples := Samples(20)
		d := Record(t, kind, dest(t), samples, with(t)...)
		r, sr := OpenStream(t, kind, d, storage.Selector{Start: 45, End: 120, MaxSamples: 3}, with(t)...)
		defer r.Close()
		defer sr.Close()
		batch, err := sr.Read(math.MaxInt64)
		require.NoError(t, err)
		require.Len(t, batch, 3)
		require.Equal(t, int64(50), batch[0].ReceptionTimestamp)
		require.Equal(t, uint64(4), batch[0].SequenceNumber)
		sr.ReturnLoan(batch)
		require.Equal(t, expected(samples)[7:12], Drain(t, sr, math.MaxInt64))
		require.True(t, sr.Finished())
	})
	t.Run("should select records received out of order", func(t *testing.T) {
		samples := []record.Sample{
			{Timestamp: 100, Valid: true, Data: record.Payload{ID: 1, Msg: "a"}},
			{Timestamp: 300, Valid: true, Data: record.Payload{ID: 2, Msg: "b"}},
			{Timestamp: 50, Valid: false},
			{Timestamp: 200, Valid: true, Data: record.Payload{ID: 4, Msg: "d"}},
		}
		d := Record(t, kind, dest(t), samples, with(t)...)
		r, sr := OpenStream(t, kind, d, storage.Between(150, math.MaxInt64), with(t)...)
		defer r.Close()
		defer sr.Close()
		got := []int64{}
		for _, rec := range Drain(t, sr, math.MaxInt64) {
			got = append(got, rec.ReceptionTimestamp)
		}
		// indexed backends may return records by timestamp
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		require.Equal(t, []int64{200, 300}, got)
	})
	t.Run("should not find unknown streams", func(t *testing.T) {
		d := Record(t, kind, dest(t), Samples(2), with(t)...)
		r, err := storage.OpenReader(kind, d, with(t)...)
		require.NoError(t, err)
		defer r.Close()
		_, err = r.StreamReader(storage.StreamInfo{Name: "unknown"}, storage.All())
		require.True(t, errors.Is(err, storage.ErrNotFound))
	})
	t.Run("should reject line breaks", func(t *testing.T) {
		w, err := storage.OpenWriter(kind, dest(t), with(t)...)
		require.NoError(t, err)
		defer w.Close()
		err = w.Append([]record.Sample{{Timestamp: 1, Valid: true, Data: record.Payload{Msg: "a\nb"}}})
		require.True(t, errors.Is(err, storage.ErrFormat))
		require.Equal(t, uint64(0), w.StoredCount())
	})
	t.Run("should record session boundaries", func(t *testing.T) {
		clock := NewClock(1000)
		w, err := storage.OpenWriter(kind, dest(t), with(t, storage.WithClock(clock))...)
		require.NoError(t, err)
		require.Equal(t, int64(1000), w.StartTime())
		require.NoError(t, w.Append(Samples(3)))
		clock.Set(5000)
		require.NoError(t, w.Close())
		r, err := storage.OpenReader(kind, w.Destination(), with(t)...)
		require.NoError(t, err)
		defer r.Close()
		info := r.StreamInfoReader()
		start, err := info.ServiceStartTime()
		require.NoError(t, err)
		stop, err := info.ServiceStopTime()
		require.NoError(t, err)
		require.Equal(t, int64(1000), start)
		require.Equal(t, int64(5000), stop)
		infos := info.Read()
		require.Len(t, infos, 1)
		require.Equal(t, record.HelloMsg.Name, infos[0].TypeName)
		require.True(t, info.Finished())
		require.Empty(t, info.Read())
		info.Reset()
		require.Len(t, info.Read(), 1)
	})
	t.Run("should keep stop time after start time", func(t *testing.T) {
		clock := NewClock(1000)
		w, err := storage.OpenWriter(kind, dest(t), with(t, storage.WithClock(clock))...)
		require.NoError(t, err)
		clock.Set(10)
		require.NoError(t, w.Close())
		r, err := storage.OpenReader(kind, w.Destination(), with(t)...)
		require.NoError(t, err)
		defer r.Close()
		stop, err := r.StreamInfoReader().ServiceStopTime()
		require.NoError(t, err)
		require.Equal(t, int64(1000), stop)
	})
	t.Run("should store publications", func(t *testing.T) {
		w, err := storage.OpenWriter(kind, dest(t), with(t)...)
		require.NoError(t, err)
		defer w.Close()
		pw, ok := w.(storage.PublicationWriter)
		if !ok {
			t.Skip("backend does not store publications")
		}
		require.NoError(t, pw.StorePublications([]record.Publication{{Timestamp: 1, Valid: true, TopicName: "Example_Storage", TypeName: "HelloMsg"}}))
		err = pw.StorePublications([]record.Publication{{Timestamp: 2, Valid: true, TopicName: "bad\ntopic"}})
		require.True(t, errors.Is(err, storage.ErrFormat))
	})
	t.Run("should refuse publications once closed", func(t *testing.T) {
		w, err := storage.OpenWriter(kind, dest(t), with(t)...)
		require.NoError(t, err)
		pw, ok := w.(storage.PublicationWriter)
		if !ok {
			w.Close()
			t.Skip("backend does not store publications")
		}
		pubs := []record.Publication{{Timestamp: 1, Valid: true, TopicName: "Example_Storage", TypeName: "HelloMsg"}}
		errs := make(chan error, 4*100)
		wg := sync.WaitGroup{}
		for worker := 0; worker < 4; worker++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for idx := 0; idx < 100; idx++ {
					errs <- pw.StorePublications(pubs)
				}
			}()
		}
		require.NoError(t, w.Close())
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				require.True(t, errors.Is(err, storage.ErrAlreadyClosed), err.Error())
			}
		}
		require.True(t, errors.Is(pw.StorePublications(pubs), storage.ErrAlreadyClosed))
	})
}
