// Package record holds the recorded sample model and its on-disk encodings.
package record

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMalformed is returned, possibly wrapped, by every decoder of this package
	// when its input violates the encoding.
	ErrMalformed = errors.New("malformed record")
)

// Payload is the fixed sample shape carried by valid records.
type Payload struct {
	ID  int32
	Msg string
}

// Sample is what the ingestion side hands to a writer. Timestamp is the reception
// timestamp, in nanoseconds, as observed by the ingestion layer.
type Sample struct {
	Timestamp int64
	Valid     bool
	Data      Payload
}

// Record is one stored sample. SequenceNumber is assigned by the writer.
// Data is the zero value when Valid is false.
type Record struct {
	SequenceNumber     uint64
	ReceptionTimestamp int64
	Valid              bool
	Data               Payload
}

// Publication is a publication discovery sample.
type Publication struct {
	Timestamp int64
	Valid     bool
	TopicName string
	TypeName  string
}

// SessionInfo describes one capture session. End is only meaningful when HasEnd is set.
type SessionInfo struct {
	Start  int64
	End    int64
	HasEnd bool
}

// ValidateMessage checks that msg can be stored in a single line.
func ValidateMessage(msg string) error {
	if idx := strings.IndexAny(msg, "\r\n"); idx >= 0 {
		return errors.Wrapf(ErrMalformed, "message contains a line break at index %d", idx)
	}
	return nil
}

type MemberKind int

const (
	Int32Member MemberKind = iota
	StringMember
)

func (k MemberKind) String() string {
	switch k {
	case Int32Member:
		return "int32"
	case StringMember:
		return "string"
	default:
		return "unknown"
	}
}

type Member struct {
	Name string
	Kind MemberKind
	Key  bool
	// Bound is the maximum length of string members, 0 meaning unbounded.
	Bound int
}

// TypeDescriptor describes the shape of the samples of a stream.
type TypeDescriptor struct {
	Name    string
	Members []Member
}

// HelloMsg is the descriptor of Payload.
var HelloMsg = TypeDescriptor{
	Name: "HelloMsg",
	Members: []Member{
		{Name: "id", Kind: Int32Member, Key: true},
		{Name: "msg", Kind: StringMember, Bound: 256},
	},
}
