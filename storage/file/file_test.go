package file

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"github.com/vx-labs/recstore/storage/storagetest"
)

func destination(t *testing.T) string {
	return filepath.Join(t.TempDir(), "Example_Storage")
}

func TestContract(t *testing.T) {
	storagetest.Run(t, Kind, destination)
}

func TestFileLayout(t *testing.T) {
	dest := destination(t)
	clock := storagetest.NewClock(5)
	w, err := Create(dest, storage.WithClock(clock))
	require.NoError(t, err)

	t.Run("should not allow a second writer", func(t *testing.T) {
		_, err := Create(dest)
		require.True(t, errors.Is(err, storage.ErrIO))
	})
	require.NoError(t, w.Append([]record.Sample{
		{Timestamp: 100, Valid: true, Data: record.Payload{ID: 1, Msg: "hello"}},
		{Timestamp: 200},
	}))
	require.NoError(t, w.StorePublications([]record.Publication{{Timestamp: 3, Valid: true, TopicName: "Example_Storage", TypeName: "HelloMsg"}}))
	clock.Set(9)
	require.NoError(t, w.Close())

	t.Run("should write labeled lines", func(t *testing.T) {
		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, "Sample number: 0\nReception timestamp: 100\nValid data: 1\nData.id: 1\nData.msg: hello\n\n"+
			"Sample number: 1\nReception timestamp: 200\nValid data: 0\n\n", string(data))
		info, err := os.ReadFile(dest + InfoSuffix)
		require.NoError(t, err)
		require.Equal(t, "Start timestamp: 5\nEnd timestamp: 9\n", string(info))
	})
	t.Run("should read publications back", func(t *testing.T) {
		pubs, err := ReadPublications(dest)
		require.NoError(t, err)
		require.Equal(t, []record.Publication{{Timestamp: 3, Valid: true, TopicName: "Example_Storage", TypeName: "HelloMsg"}}, pubs)
	})
	t.Run("should allow a new writer once closed", func(t *testing.T) {
		w, err := Create(dest)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Empty(t, data)
	})
}

func TestPublicationsAfterClose(t *testing.T) {
	w, err := Create(destination(t))
	require.NoError(t, err)
	// the files are released while the session still looks open
	require.NoError(t, w.sink.Close())
	require.False(t, w.Closed())
	err = w.StorePublications([]record.Publication{{Timestamp: 1, Valid: true, TopicName: "Example_Storage", TypeName: "HelloMsg"}})
	require.True(t, errors.Is(err, storage.ErrAlreadyClosed), err.Error())
}

func writeFiles(t *testing.T, data, info string) string {
	dest := destination(t)
	require.NoError(t, os.WriteFile(dest, []byte(data), 0644))
	if info != "" {
		require.NoError(t, os.WriteFile(dest+InfoSuffix, []byte(info), 0644))
	}
	return dest
}

func TestCorruptedFiles(t *testing.T) {
	const valid = "Sample number: 0\nReception timestamp: 100\nValid data: 1\nData.id: 1\nData.msg: hello\n\n"
	t.Run("should fail on a truncated message", func(t *testing.T) {
		dest := writeFiles(t, valid+"Sample number: 1\nReception timestamp: 200\nValid data: 1\nData.id: 2\nData.ms", "Start timestamp: 1\nEnd timestamp: 2\n")
		r, err := Open(dest)
		require.NoError(t, err)
		sr, err := r.StreamReader(storage.StreamInfo{}, storage.All())
		require.NoError(t, err)
		defer sr.Close()
		batch, err := sr.Read(math.MaxInt64)
		require.True(t, errors.Is(err, storage.ErrFormat))
		require.Nil(t, batch)
	})
	t.Run("should fail on the first read of a corrupted first record", func(t *testing.T) {
		dest := writeFiles(t, "Sample number: zero\n", "Start timestamp: 1\n")
		r, err := Open(dest)
		require.NoError(t, err)
		sr, err := r.StreamReader(storage.StreamInfo{}, storage.All())
		require.NoError(t, err)
		defer sr.Close()
		require.False(t, sr.Finished())
		_, err = sr.Read(math.MaxInt64)
		require.True(t, errors.Is(err, storage.ErrFormat))
	})
	t.Run("should require metadata", func(t *testing.T) {
		_, err := Open(writeFiles(t, valid, ""))
		require.True(t, errors.Is(err, storage.ErrNotFound))
		_, err = Open(writeFiles(t, valid, "End timestamp: 3\n"))
		require.True(t, errors.Is(err, storage.ErrFormat))
	})
	t.Run("should not report the stop time of unclosed sessions", func(t *testing.T) {
		r, err := Open(writeFiles(t, valid, "Start timestamp: 1\n"))
		require.NoError(t, err)
		_, err = r.StreamInfoReader().ServiceStopTime()
		require.True(t, errors.Is(err, storage.ErrFormat))
	})
	t.Run("should fail to create in a missing directory", func(t *testing.T) {
		_, err := Create(filepath.Join(t.TempDir(), "missing", "dest"))
		require.True(t, errors.Is(err, storage.ErrIO))
	})
}
