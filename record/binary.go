package record

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	sequenceNumberField protowire.Number = 1
	timestampField      protowire.Number = 2
	validField          protowire.Number = 3
	dataIDField         protowire.Number = 4
	dataMsgField        protowire.Number = 5
)

// AppendBinary appends the protobuf wire encoding of r to b.
func AppendBinary(b []byte, r *Record) []byte {
	b = protowire.AppendTag(b, sequenceNumberField, protowire.VarintType)
	b = protowire.AppendVarint(b, r.SequenceNumber)
	b = protowire.AppendTag(b, timestampField, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.ReceptionTimestamp))
	b = protowire.AppendTag(b, validField, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.Valid))
	if r.Valid {
		b = protowire.AppendTag(b, dataIDField, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(r.Data.ID)))
		b = protowire.AppendTag(b, dataMsgField, protowire.BytesType)
		b = protowire.AppendString(b, r.Data.Msg)
	}
	return b
}

// UnmarshalBinary decodes b into r. Unknown fields are skipped.
func UnmarshalBinary(b []byte, r *Record) error {
	*r = Record{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "invalid tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case sequenceNumberField, timestampField, validField, dataIDField:
			if typ != protowire.VarintType {
				return errors.Wrapf(ErrMalformed, "field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case sequenceNumberField:
				r.SequenceNumber = v
			case timestampField:
				r.ReceptionTimestamp = protowire.DecodeZigZag(v)
			case validField:
				r.Valid = protowire.DecodeBool(v)
			case dataIDField:
				r.Data.ID = int32(protowire.DecodeZigZag(v))
			}
		case dataMsgField:
			if typ != protowire.BytesType {
				return errors.Wrapf(ErrMalformed, "field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			r.Data.Msg = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !r.Valid {
		r.Data = Payload{}
	}
	return nil
}
