package convert

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"github.com/vx-labs/recstore/storage/file"
	"github.com/vx-labs/recstore/storage/memory"
	"github.com/vx-labs/recstore/storage/storagetest"
)

var sessionCount int64

func session(t *testing.T, samples []record.Sample) storage.Reader {
	dest := fmt.Sprintf("%s-%d", t.Name(), atomic.AddInt64(&sessionCount, 1))
	t.Cleanup(func() { memory.Default.Delete(dest) })
	storagetest.Record(t, memory.Kind, dest, samples)
	r, err := storage.OpenReader(memory.Kind, dest)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestToCSV(t *testing.T) {
	samples := []record.Sample{
		{Timestamp: 100, Valid: true, Data: record.Payload{ID: 1, Msg: "hello, world"}},
		{Timestamp: 200},
	}
	t.Run("should write one row per record", func(t *testing.T) {
		out := &bytes.Buffer{}
		count, err := ToCSV(context.Background(), session(t, samples), out)
		require.NoError(t, err)
		require.Equal(t, uint64(2), count)
		require.Equal(t, strings.Join([]string{
			"stream,sequence_number,reception_timestamp,valid_data,id,msg",
			`Example_Storage,0,100,1,1,"hello, world"`,
			"Example_Storage,1,200,0,,",
			"",
		}, "\n"), out.String())
	})
	t.Run("should use the empty value representation", func(t *testing.T) {
		out := &bytes.Buffer{}
		_, err := ToCSV(context.Background(), session(t, samples), out, WithoutHeader(), WithEmptyValue("nil"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 2)
		require.Equal(t, "Example_Storage,1,200,0,nil,nil", lines[1])
	})
	t.Run("should stop when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ToCSV(ctx, session(t, samples), &bytes.Buffer{})
		require.Equal(t, context.Canceled, err)
	})
}

func TestToStorage(t *testing.T) {
	t.Run("should copy every record", func(t *testing.T) {
		samples := storagetest.Samples(chunkSize*2 + 3)
		dest := filepath.Join(t.TempDir(), "Example_Storage")
		w, err := file.Create(dest)
		require.NoError(t, err)
		count, err := ToStorage(context.Background(), session(t, samples), w)
		require.NoError(t, err)
		require.Equal(t, uint64(len(samples)), count)
		require.Equal(t, count, w.StoredCount())
		require.NoError(t, w.Close())

		r, sr := storagetest.OpenStream(t, file.Kind, dest, storage.All())
		defer r.Close()
		defer sr.Close()
		got := storagetest.Drain(t, sr, math.MaxInt64)
		require.Len(t, got, len(samples))
		for idx, rec := range got {
			require.Equal(t, uint64(idx), rec.SequenceNumber)
			require.Equal(t, samples[idx].Timestamp, rec.ReceptionTimestamp)
			require.Equal(t, samples[idx].Valid, rec.Valid)
		}
	})
}
