package commitlog

import (
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrSegmentAlreadyExists = errors.New("segment already exists")
	ErrSegmentDoesNotExist  = errors.New("segment does not exist")
	ErrSegmentFull          = errors.New("segment is full")
	ErrSegmentReadOnly      = errors.New("segment is read-only")
	ErrSegmentCorrupt       = errors.New("segment corrupted")
	ErrCorruptedEntry       = errors.New("entry corrupted")
)

type Segment interface {
	FilePath() string
	BaseOffset() uint64
	CurrentOffset() uint64
	Size() uint64
	WriteEntry(ts int64, value []byte) (uint64, error)
	ReadEntryAt(buf []byte, offset uint64) (Entry, error)
	ReaderFrom(offset uint64) (io.Reader, error)
	Earliest() int64
	Latest() int64
	LookupTimestamp(ts int64) uint64
	Ordered() bool
	Sync() error
	Delete() error
	io.Closer
}

type segment struct {
	mtx             sync.Mutex
	baseOffset      uint64
	currentOffset   uint64
	currentPosition uint64
	fd              *os.File
	index           Index
	writable        bool
	path            string
	// frame is reused to encode written entries
	frame []byte
}

func segmentName(datadir string, id uint64) string {
	return path.Join(datadir, fmt.Sprintf("%d.log", id))
}

func (s *segment) Close() error {
	err := s.index.Close()
	if err != nil {
		s.fd.Close()
		return err
	}
	return s.fd.Close()
}
func (s *segment) Delete() error {
	s.Close()
	err := os.Remove(s.index.FilePath())
	if err != nil {
		return err
	}
	return os.Remove(s.FilePath())
}

func (s *segment) FilePath() string {
	return s.path
}
func (s *segment) BaseOffset() uint64 {
	return s.baseOffset
}

// CurrentOffset returns the number of complete entries stored in the segment.
func (s *segment) CurrentOffset() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.currentOffset
}
func (s *segment) Size() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.currentPosition
}

func createSegment(datadir string, id uint64, maxRecordCount uint64) (Segment, error) {
	filename := segmentName(datadir, id)
	if fileExists(filename) {
		return nil, ErrSegmentAlreadyExists
	}
	idx, err := createIndex(datadir, id, maxRecordCount)
	if err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		idx.Close()
		return nil, err
	}
	s := &segment{
		path:       filename,
		baseOffset: id,
		index:      idx,
		fd:         fd,
		writable:   true,
	}
	return s, nil
}

// openSegment opens an existing segment for reading. An entry torn by a crash
// is not counted, but stays readable so that readers can report it.
func openSegment(datadir string, id uint64) (Segment, error) {
	filename := segmentName(datadir, id)
	if !fileExists(filename) {
		return nil, ErrSegmentDoesNotExist
	}
	idx, err := openIndex(datadir, id, false)
	if err != nil {
		return nil, err
	}
	fd, err := os.Open(filename)
	if err != nil {
		idx.Close()
		return nil, err
	}
	info, err := fd.Stat()
	if err != nil {
		idx.Close()
		fd.Close()
		return nil, err
	}
	offset, err := checkSegmentIntegrity(fd, uint64(info.Size()), idx)
	if err != nil {
		idx.Close()
		fd.Close()
		return nil, err
	}
	s := &segment{
		path:            filename,
		baseOffset:      id,
		currentOffset:   offset,
		currentPosition: uint64(info.Size()),
		index:           idx,
		fd:              fd,
	}
	return s, nil
}

// checkSegmentIntegrity counts the complete entries of a segment, and checks
// that the index agrees with their positions.
func checkSegmentIntegrity(r io.ReaderAt, size uint64, idx Index) (uint64, error) {
	buf := make([]byte, EntryHeaderSize)
	var offset, position uint64
	for offset = 0; offset < idx.Capacity(); offset++ {
		if position+uint64(EntryHeaderSize) > size {
			return offset, nil
		}
		if _, err := r.ReadAt(buf, int64(position)); err != nil {
			return offset, ErrSegmentCorrupt
		}
		payloadSize := headerPayloadSize(buf)
		if payloadSize > MaxEntrySize || position+uint64(EntryHeaderSize)+payloadSize > size {
			return offset, nil
		}
		indexed, err := idx.readPosition(offset)
		if err != nil || indexed != position {
			return offset, ErrSegmentCorrupt
		}
		position += uint64(EntryHeaderSize) + payloadSize
	}
	return offset, nil
}

// ReadEntryAt reads the entry stored at the provided offset, relative to the segment base offset.
func (s *segment) ReadEntryAt(buf []byte, offset uint64) (Entry, error) {
	if offset >= s.CurrentOffset() {
		return Entry{}, io.EOF
	}
	position, err := s.index.readPosition(offset)
	if err != nil {
		return Entry{}, err
	}
	return readEntry(io.NewSectionReader(s.fd, int64(position), int64(s.Size()-position)), buf)
}

// ReaderFrom returns the raw entries stored from the provided relative offset.
func (s *segment) ReaderFrom(offset uint64) (io.Reader, error) {
	size := s.Size()
	position := size
	if offset < s.CurrentOffset() {
		var err error
		position, err = s.index.readPosition(offset)
		if err != nil {
			return nil, err
		}
	}
	return io.NewSectionReader(s.fd, int64(position), int64(size-position)), nil
}

func (s *segment) timestamp(offset uint64) int64 {
	ts, err := s.index.readTimestamp(offset)
	if err != nil {
		return math.MinInt64
	}
	return ts
}

// Earliest returns the timestamp of the first entry, or math.MaxInt64 when the segment is empty.
func (s *segment) Earliest() int64 {
	if s.CurrentOffset() == 0 {
		return math.MaxInt64
	}
	return s.timestamp(0)
}

// Latest returns the timestamp of the last entry, or math.MinInt64 when the segment is empty.
func (s *segment) Latest() int64 {
	count := s.CurrentOffset()
	if count == 0 {
		return math.MinInt64
	}
	return s.timestamp(count - 1)
}

// LookupTimestamp returns the relative offset of the first entry whose timestamp is
// not before ts. Entries are expected to be stored by non-decreasing timestamps.
func (s *segment) LookupTimestamp(ts int64) uint64 {
	count := s.CurrentOffset()
	return uint64(sort.Search(int(count), func(i int) bool {
		return s.timestamp(uint64(i)) >= ts
	}))
}

// Ordered reports whether the entries of the segment were written by
// non-decreasing timestamps.
func (s *segment) Ordered() bool {
	count := s.CurrentOffset()
	for offset := uint64(1); offset < count; offset++ {
		if s.timestamp(offset) < s.timestamp(offset-1) {
			return false
		}
	}
	return true
}

func (s *segment) Sync() error {
	if !s.writable {
		return nil
	}
	if err := s.fd.Sync(); err != nil {
		return ErrFSyncFailed
	}
	return s.index.Sync()
}

func (s *segment) WriteEntry(ts int64, value []byte) (uint64, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.writable {
		return 0, ErrSegmentReadOnly
	}
	if s.currentOffset >= s.index.Capacity() {
		return 0, ErrSegmentFull
	}
	frame, err := appendEntry(s.frame[:0], s.baseOffset+s.currentOffset, ts, value)
	if err != nil {
		return 0, err
	}
	s.frame = frame
	n, err := s.fd.WriteAt(frame, int64(s.currentPosition))
	if err != nil {
		return 0, err
	}
	err = s.index.writePosition(s.currentOffset, s.currentPosition, ts)
	if err != nil {
		// Index update failed: return an error and do not update write cursor
		return 0, err
	}
	offset := s.currentOffset
	s.currentOffset++
	s.currentPosition += uint64(n)
	return offset, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
