package storage

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/recstore/record"
)

type nopPlugin struct{}

func (nopPlugin) OpenWriter(dest string, opts ...Option) (Writer, error) {
	return nil, NotFoundError(nil, dest)
}
func (nopPlugin) OpenReader(dest string, opts ...Option) (Reader, error) {
	return nil, NotFoundError(nil, dest)
}

func TestRegistry(t *testing.T) {
	Register("registry-test", nopPlugin{})
	t.Run("should list registered kinds", func(t *testing.T) {
		require.Contains(t, Kinds(), "registry-test")
	})
	t.Run("should refuse duplicates", func(t *testing.T) {
		require.Panics(t, func() { Register("registry-test", nopPlugin{}) })
	})
	t.Run("should dispatch to the plugin", func(t *testing.T) {
		_, err := OpenReader("registry-test", "somewhere")
		require.True(t, errors.Is(err, ErrNotFound))
	})
	t.Run("should fail on unknown kinds", func(t *testing.T) {
		_, err := OpenWriter("unknown", "somewhere")
		require.True(t, errors.Is(err, ErrUnknownKind))
	})
}

func TestErrors(t *testing.T) {
	t.Run("should keep the kind of classified errors", func(t *testing.T) {
		err := Classify(NotFoundError(os.ErrNotExist, "data file"), "open")
		require.True(t, errors.Is(err, ErrNotFound))
		require.True(t, errors.Is(err, os.ErrNotExist))
	})
	t.Run("should map malformed records to format errors", func(t *testing.T) {
		err := Classify(errors.Wrap(record.ErrMalformed, "line 4"), "read")
		require.True(t, errors.Is(err, ErrFormat))
		require.False(t, errors.Is(err, ErrIO))
	})
	t.Run("should map anything else to I/O errors", func(t *testing.T) {
		err := Classify(errors.New("disk full"), "write")
		require.True(t, errors.Is(err, ErrIO))
		require.Contains(t, err.Error(), "disk full")
	})
	t.Run("should match streams by name", func(t *testing.T) {
		require.NoError(t, MatchStream("a", StreamInfo{}))
		require.NoError(t, MatchStream("a", StreamInfo{Name: "a"}))
		require.True(t, errors.Is(MatchStream("a", StreamInfo{Name: "b"}), ErrNotFound))
	})
}

func TestOptions(t *testing.T) {
	o := NewOptions(WithProperty("auto_dir", "true"), WithProperty("segment_max_records", "12"), WithStreamName("s"))
	require.True(t, o.BoolProperty("auto_dir"))
	require.False(t, o.BoolProperty("missing"))
	v, err := o.IntProperty("segment_max_records", 3)
	require.NoError(t, err)
	require.Equal(t, 12, v)
	v, err = o.IntProperty("missing", 3)
	require.NoError(t, err)
	require.Equal(t, 3, v)
	require.Equal(t, "s", o.StreamName)
	require.NotNil(t, o.Logger)
}
