package record

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestBinaryCodec(t *testing.T) {
	t.Run("should decode what was encoded", func(t *testing.T) {
		in := Record{SequenceNumber: 42, ReceptionTimestamp: -1500, Valid: true, Data: Payload{ID: -3, Msg: "hello"}}
		out := Record{}
		require.NoError(t, UnmarshalBinary(AppendBinary(nil, &in), &out))
		require.Equal(t, in, out)
	})
	t.Run("should not carry data for invalid records", func(t *testing.T) {
		in := Record{SequenceNumber: 1, ReceptionTimestamp: 7, Data: Payload{ID: 9, Msg: "ignored"}}
		out := Record{}
		require.NoError(t, UnmarshalBinary(AppendBinary(nil, &in), &out))
		require.Equal(t, Record{SequenceNumber: 1, ReceptionTimestamp: 7}, out)
	})
	t.Run("should skip unknown fields", func(t *testing.T) {
		in := Record{SequenceNumber: 3, ReceptionTimestamp: 8}
		b := AppendBinary(nil, &in)
		b = protowire.AppendTag(b, 15, protowire.BytesType)
		b = protowire.AppendString(b, "future")
		out := Record{}
		require.NoError(t, UnmarshalBinary(b, &out))
		require.Equal(t, in, out)
	})
	t.Run("should reject truncated input", func(t *testing.T) {
		b := AppendBinary(nil, &Record{Valid: true, Data: Payload{Msg: "truncated"}})
		err := UnmarshalBinary(b[:len(b)-3], &Record{})
		require.True(t, errors.Is(err, ErrMalformed))
	})
	t.Run("should reject unexpected wire types", func(t *testing.T) {
		b := protowire.AppendTag(nil, sequenceNumberField, protowire.BytesType)
		b = protowire.AppendString(b, "x")
		require.True(t, errors.Is(UnmarshalBinary(b, &Record{}), ErrMalformed))
	})
}
