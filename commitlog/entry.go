package commitlog

import (
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrInvalidBufferSize = errors.New("invalid buffer size")
	ErrEntryTooBig       = errors.New("entry is too big")
)

// MaxEntrySize bounds entry payloads.
const MaxEntrySize uint64 = 16 << 20

// An entry is framed by a header, all fields big endian:
//
//	payload size  uint32
//	offset        uint64
//	timestamp     int64
//	checksum      uint32, CRC-32C of the payload
const EntryHeaderSize int = 4 + 8 + 8 + 4

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Entry is a timestamped payload stored in the log.
type Entry struct {
	offset    uint64
	timestamp int64
	checksum  uint32
	payload   []byte
}

func (e Entry) Size() uint64     { return uint64(len(e.payload)) }
func (e Entry) Offset() uint64   { return e.offset }
func (e Entry) Timestamp() int64 { return e.timestamp }
func (e Entry) Payload() []byte  { return e.payload }

// IsValid reports whether the payload matches its checksum.
func (e Entry) IsValid() bool { return crc32.Checksum(e.payload, castagnoli) == e.checksum }

func headerPayloadSize(header []byte) uint64 {
	return uint64(encoding.Uint32(header[0:4]))
}

// appendEntry appends the framed entry to b.
func appendEntry(b []byte, offset uint64, ts int64, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > MaxEntrySize {
		return b, ErrEntryTooBig
	}
	var header [EntryHeaderSize]byte
	encoding.PutUint32(header[0:4], uint32(len(payload)))
	encoding.PutUint64(header[4:12], offset)
	encoding.PutUint64(header[12:20], uint64(ts))
	encoding.PutUint32(header[20:24], crc32.Checksum(payload, castagnoli))
	return append(append(b, header[:]...), payload...), nil
}

// readEntry reads a whole entry from r, using header as scratch space. It
// returns io.EOF when r ends before the entry starts, and io.ErrUnexpectedEOF
// when r ends in the middle of it.
func readEntry(r io.Reader, header []byte) (Entry, error) {
	if len(header) != EntryHeaderSize {
		return Entry{}, ErrInvalidBufferSize
	}
	if _, err := io.ReadFull(r, header); err != nil {
		return Entry{}, err
	}
	size := headerPayloadSize(header)
	if size > MaxEntrySize {
		return Entry{}, ErrEntryTooBig
	}
	e := Entry{
		offset:    encoding.Uint64(header[4:12]),
		timestamp: int64(encoding.Uint64(header[12:20])),
		checksum:  encoding.Uint32(header[20:24]),
		payload:   make([]byte, size),
	}
	if _, err := io.ReadFull(r, e.payload); err != nil {
		if err == io.EOF {
			return Entry{}, io.ErrUnexpectedEOF
		}
		return Entry{}, err
	}
	return e, nil
}
