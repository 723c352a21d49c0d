package commitlog

import (
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitLog(t *testing.T) {
	datadir := t.TempDir()
	clog, err := Create(datadir, 10)
	require.NoError(t, err)
	defer clog.Delete()
	value := []byte("test")
	t.Run("should allow reading from empty log", func(t *testing.T) {
		r := clog.Reader()
		defer r.Close()
		buf := make([]byte, len(value))
		n, err := r.Read(buf)
		require.Equal(t, io.EOF, err)
		require.Equal(t, 0, n)
		require.Equal(t, int64(math.MinInt64), clog.Latest())
		require.Equal(t, int64(math.MaxInt64), clog.Earliest())
	})
	t.Run("should not allow creating an existing log", func(t *testing.T) {
		_, err := Create(datadir, 10)
		require.Equal(t, ErrLogAlreadyExists, err)
	})

	for i := 0; i < 50; i++ {
		n, err := clog.WriteEntry(int64(i*10), value)
		require.NoError(t, err)
		require.Equal(t, uint64(i), n)
	}
	l := clog.(*commitLog)
	require.Equal(t, 5, len(l.segments))
	require.NoError(t, clog.Sync())

	t.Run("should close then reopen without error", func(t *testing.T) {
		require.NoError(t, clog.Close())
		clog, err = Open(datadir)
		require.NoError(t, err)
		require.Equal(t, uint64(50), clog.Offset())
		require.Equal(t, int64(490), clog.Latest())
		require.Equal(t, int64(0), clog.Earliest())
	})
	t.Run("should not allow writing to a reopened log", func(t *testing.T) {
		_, err := clog.WriteEntry(500, value)
		require.Equal(t, ErrReadOnlyLog, err)
	})
	t.Run("should allow looking up for offset", func(t *testing.T) {
		l := clog.(*commitLog)
		require.Equal(t, 2, l.lookupOffset(27))
		require.Equal(t, 0, l.lookupOffset(9))
		require.Equal(t, 1, l.lookupOffset(10))
	})
	t.Run("should allow reading from log", func(t *testing.T) {
		r := clog.Reader()
		defer r.Close()
		buf := make([]byte, len(value)+EntryHeaderSize)
		for i := 0; i < 50; i++ {
			n, err := io.ReadFull(r, buf)
			require.NoError(t, err, fmt.Sprintf("index: %d", i))
			require.Equal(t, len(value)+EntryHeaderSize, n, buf)
		}
		_, err := r.Read(buf)
		require.Equal(t, io.EOF, err)
	})
	t.Run("should allow seeking timestamp in reader", func(t *testing.T) {
		require.True(t, clog.Ordered())
		require.Equal(t, uint64(0), clog.LookupTimestamp(-5))
		require.Equal(t, uint64(5), clog.LookupTimestamp(50))
		require.Equal(t, uint64(26), clog.LookupTimestamp(255))
		require.Equal(t, uint64(50), clog.LookupTimestamp(1000))
	})
	t.Run("should decoder to be plugged in", func(t *testing.T) {
		r := clog.Reader()
		defer r.Close()
		_, err := r.Seek(12, io.SeekStart)
		require.NoError(t, err)
		dec := NewDecoder(r)
		for i := 12; i < 50; i++ {
			entry, err := dec.Decode()
			require.NoError(t, err)
			require.Equal(t, []byte("test"), entry.Payload())
			require.Equal(t, uint64(i), entry.Offset())
			require.Equal(t, int64(i*10), entry.Timestamp())
		}
		_, err = dec.Decode()
		require.Equal(t, io.EOF, err)
	})
	t.Run("should report statistics", func(t *testing.T) {
		stats := clog.GetStatistics()
		require.Equal(t, uint64(5), stats.SegmentCount)
		require.Equal(t, uint64(50), stats.CurrentOffset)
		require.Equal(t, uint64(50*(EntryHeaderSize+len(value))), stats.StoredBytes)
	})
	t.Run("should delete every segment", func(t *testing.T) {
		require.NoError(t, clog.Delete())
		require.False(t, Exists(datadir))
		_, err := Open(datadir)
		require.Equal(t, ErrLogDoesNotExist, err)
	})
}

func TestUnorderedCommitLog(t *testing.T) {
	datadir := t.TempDir()
	clog, err := Create(datadir, 2)
	require.NoError(t, err)
	defer clog.Delete()
	value := []byte("test")
	for _, ts := range []int64{100, 300, 50, 200} {
		_, err := clog.WriteEntry(ts, value)
		require.NoError(t, err)
	}
	t.Run("should detect unordered writes", func(t *testing.T) {
		require.False(t, clog.Ordered())
	})
	t.Run("should look up unordered logs from their start", func(t *testing.T) {
		require.Equal(t, uint64(0), clog.LookupTimestamp(150))
	})
	t.Run("should detect unordered segments on open", func(t *testing.T) {
		require.NoError(t, clog.Close())
		clog, err = Open(datadir)
		require.NoError(t, err)
		require.False(t, clog.Ordered())
		require.Equal(t, uint64(0), clog.LookupTimestamp(150))
	})
}

func TestOrderedCommitLog(t *testing.T) {
	datadir := t.TempDir()
	clog, err := Create(datadir, 2)
	require.NoError(t, err)
	defer clog.Delete()
	for _, ts := range []int64{10, 10, 20, 30} {
		_, err := clog.WriteEntry(ts, []byte("test"))
		require.NoError(t, err)
	}
	require.True(t, clog.Ordered())
	require.NoError(t, clog.Close())
	clog, err = Open(datadir)
	require.NoError(t, err)
	require.True(t, clog.Ordered())
	require.Equal(t, uint64(2), clog.LookupTimestamp(15))
}

func BenchmarkLog(b *testing.B) {
	s, err := Create(b.TempDir(), 500)
	require.NoError(b, err)
	defer s.Delete()
	value := []byte("test")
	b.Run("write", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, err = s.WriteEntry(int64(i), value)
			if err != nil {
				b.Fatalf("log write failed: %v", err)
			}
		}
	})
}
