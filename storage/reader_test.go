package storage

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/recstore/record"
	"go.uber.org/zap/zaptest"
)

type sliceSource struct {
	records []record.Record
	// failAt makes Next fail when reaching this position, when positive.
	failAt  int
	pos     int
	seekTo  int64
	seeks   int
	rewinds int
	closed  bool
}

func (s *sliceSource) Next(r *record.Record) error {
	if s.failAt > 0 && s.pos == s.failAt-1 {
		return errors.Wrap(record.ErrMalformed, "broken record")
	}
	if s.pos >= len(s.records) {
		return io.EOF
	}
	*r = s.records[s.pos]
	s.pos++
	return nil
}
func (s *sliceSource) Rewind() error {
	s.rewinds++
	s.pos = 0
	return nil
}
func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type seekingSource struct {
	*sliceSource
}

func (s seekingSource) SeekTimestamp(ts int64) error {
	s.seeks++
	s.seekTo = ts
	for s.pos < len(s.records) && s.records[s.pos].ReceptionTimestamp < ts {
		s.pos++
	}
	return nil
}

func scenario() []record.Record {
	return []record.Record{
		{SequenceNumber: 0, ReceptionTimestamp: 100, Valid: true, Data: record.Payload{ID: 1, Msg: "a"}},
		{SequenceNumber: 1, ReceptionTimestamp: 200, Valid: false},
		{SequenceNumber: 2, ReceptionTimestamp: 300, Valid: true, Data: record.Payload{ID: 3, Msg: "c"}},
	}
}

func sequenceNumbers(records []*record.Record) []uint64 {
	out := make([]uint64, len(records))
	for idx := range records {
		out[idx] = records[idx].SequenceNumber
	}
	return out
}

func TestStreamReader(t *testing.T) {
	t.Run("should honor time limits", func(t *testing.T) {
		src := &sliceSource{records: scenario()}
		r := NewStreamReader("test", src, All(), zaptest.NewLogger(t))
		out, err := r.Read(50)
		require.NoError(t, err)
		require.Empty(t, out)
		out, err = r.Read(150)
		require.NoError(t, err)
		require.Equal(t, []uint64{0}, sequenceNumbers(out))
		require.Equal(t, "a", out[0].Data.Msg)
		r.ReturnLoan(out)
		require.Nil(t, out[0])
		require.False(t, r.Finished())
		out, err = r.Read(250)
		require.NoError(t, err)
		require.Equal(t, []uint64{1}, sequenceNumbers(out))
		require.False(t, r.Finished())
		out, err = r.Read(1000)
		require.NoError(t, err)
		require.Equal(t, []uint64{2}, sequenceNumbers(out))
		require.True(t, r.Finished())
		out, err = r.Read(1000)
		require.NoError(t, err)
		require.Empty(t, out)
		require.NoError(t, r.Close())
		require.True(t, src.closed)
	})
	t.Run("should replay the same records after reset", func(t *testing.T) {
		r := NewStreamReader("test", &sliceSource{records: scenario()}, All(), nil)
		first, err := r.Read(1000)
		require.NoError(t, err)
		require.NoError(t, r.Reset())
		require.False(t, r.Finished())
		second, err := r.Read(1000)
		require.NoError(t, err)
		require.Equal(t, sequenceNumbers(first), sequenceNumbers(second))
	})
	t.Run("should start finished on empty sources", func(t *testing.T) {
		r := NewStreamReader("test", &sliceSource{}, All(), nil)
		require.True(t, r.Finished())
		out, err := r.Read(1000)
		require.NoError(t, err)
		require.Empty(t, out)
	})
	t.Run("should report a broken first record on read", func(t *testing.T) {
		r := NewStreamReader("test", &sliceSource{records: scenario(), failAt: 1}, All(), nil)
		require.False(t, r.Finished())
		_, err := r.Read(1000)
		require.True(t, errors.Is(err, ErrFormat))
		_, err = r.Read(1000)
		require.True(t, errors.Is(err, ErrFormat))
	})
	t.Run("should fail the whole read on a broken record", func(t *testing.T) {
		r := NewStreamReader("test", &sliceSource{records: scenario(), failAt: 3}, All(), nil)
		out, err := r.Read(1000)
		require.True(t, errors.Is(err, ErrFormat))
		require.Nil(t, out)
	})
	t.Run("should honor the selector", func(t *testing.T) {
		r := NewStreamReader("test", &sliceSource{records: scenario()}, Between(150, 250), nil)
		out, err := r.Read(1000)
		require.NoError(t, err)
		require.Equal(t, []uint64{1}, sequenceNumbers(out))
		require.True(t, r.Finished())
	})
	t.Run("should select records at timestamp zero only", func(t *testing.T) {
		src := &sliceSource{records: []record.Record{
			{SequenceNumber: 0, ReceptionTimestamp: 0},
			{SequenceNumber: 1, ReceptionTimestamp: 10},
		}}
		r := NewStreamReader("test", src, Between(0, 0), nil)
		out, err := r.Read(1000)
		require.NoError(t, err)
		require.Equal(t, []uint64{0}, sequenceNumbers(out))
		require.True(t, r.Finished())
	})
	t.Run("should not widen a selector without end", func(t *testing.T) {
		r := NewStreamReader("test", &sliceSource{records: scenario()}, Selector{Start: 100}, nil)
		require.True(t, r.Finished())
		out, err := r.Read(1000)
		require.NoError(t, err)
		require.Empty(t, out)
	})
	t.Run("should cap reads to max samples", func(t *testing.T) {
		r := NewStreamReader("test", &sliceSource{records: scenario()}, Selector{Start: 0, End: 1000, MaxSamples: 2}, nil)
		out, err := r.Read(1000)
		require.NoError(t, err)
		require.Equal(t, []uint64{0, 1}, sequenceNumbers(out))
		out, err = r.Read(1000)
		require.NoError(t, err)
		require.Equal(t, []uint64{2}, sequenceNumbers(out))
	})
	t.Run("should report the next timestamp", func(t *testing.T) {
		r := NewStreamReader("test", &sliceSource{records: scenario()}, Between(0, 250), nil)
		ts, ok := r.(Peeker).NextTimestamp()
		require.True(t, ok)
		require.Equal(t, int64(100), ts)
		out, err := r.Read(1000)
		require.NoError(t, err)
		require.Len(t, out, 2)
		_, ok = r.(Peeker).NextTimestamp()
		require.False(t, ok)
	})
	t.Run("should seek sources supporting it", func(t *testing.T) {
		src := seekingSource{&sliceSource{records: scenario()}}
		r := NewStreamReader("test", src, Between(200, 1000), nil)
		require.Equal(t, 1, src.seeks)
		require.Equal(t, int64(200), src.seekTo)
		out, err := r.Read(1000)
		require.NoError(t, err)
		require.Equal(t, []uint64{1, 2}, sequenceNumbers(out))
		require.NoError(t, r.Reset())
		require.Equal(t, 2, src.seeks)
		require.Equal(t, 2, src.rewinds)
	})
}

func TestStreamInfoReader(t *testing.T) {
	r := NewStreamInfoReader(DescribeStream("Example_Storage"), record.SessionInfo{Start: 5})
	require.False(t, r.Finished())
	infos := r.Read()
	require.Len(t, infos, 1)
	require.Equal(t, "Example_Storage", infos[0].Name)
	require.Equal(t, "HelloMsg", infos[0].TypeName)
	r.ReturnLoan(infos)
	require.True(t, r.Finished())
	require.Empty(t, r.Read())
	r.Reset()
	require.Len(t, r.Read(), 1)
	start, err := r.ServiceStartTime()
	require.NoError(t, err)
	require.Equal(t, int64(5), start)
	_, err = r.ServiceStopTime()
	require.True(t, errors.Is(err, ErrFormat))
}
