package commitlog

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntry(t *testing.T) {
	t.Run("should frame entries", func(t *testing.T) {
		buf, err := appendEntry(nil, 7, -42, []byte("payload"))
		require.NoError(t, err)
		require.Len(t, buf, EntryHeaderSize+7)
		e, err := readEntry(bytes.NewReader(buf), make([]byte, EntryHeaderSize))
		require.NoError(t, err)
		require.True(t, e.IsValid())
		require.Equal(t, uint64(7), e.Offset())
		require.Equal(t, int64(-42), e.Timestamp())
		require.Equal(t, []byte("payload"), e.Payload())
	})
	t.Run("should refuse oversized payloads", func(t *testing.T) {
		_, err := appendEntry(nil, 0, 0, make([]byte, MaxEntrySize+1))
		require.Equal(t, ErrEntryTooBig, err)
	})
	t.Run("should report truncated entries", func(t *testing.T) {
		buf, err := appendEntry(nil, 0, 0, []byte("payload"))
		require.NoError(t, err)
		_, err = readEntry(bytes.NewReader(buf[:EntryHeaderSize+3]), make([]byte, EntryHeaderSize))
		require.Equal(t, io.ErrUnexpectedEOF, err)
		_, err = readEntry(bytes.NewReader(nil), make([]byte, EntryHeaderSize))
		require.Equal(t, io.EOF, err)
		_, err = readEntry(bytes.NewReader(buf), make([]byte, 3))
		require.Equal(t, ErrInvalidBufferSize, err)
	})
}
