// Package commitlog implements an append-only log of timestamped entries,
// split into fixed-capacity segments with a memory-mapped index.
package commitlog

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrCorruptedLog     = errors.New("corrupted commitlog")
	ErrLogAlreadyExists = errors.New("commitlog already exists")
	ErrLogDoesNotExist  = errors.New("commitlog does not exist")
	ErrReadOnlyLog      = errors.New("commitlog is read-only")
)

type commitLog struct {
	datadir               string
	mtx                   sync.Mutex
	activeSegment         Segment
	segments              []uint64
	segmentMaxRecordCount uint64
	readOnly              bool
	// ordered is false once an entry was stored before an earlier timestamp
	ordered bool
	latest  int64
}

type CommitLog interface {
	io.Closer
	WriteEntry(ts int64, value []byte) (uint64, error)
	Sync() error
	Delete() error
	Reader() Cursor
	Offset() uint64
	Datadir() string
	LookupTimestamp(ts int64) uint64
	Ordered() bool
	Earliest() int64
	Latest() int64
	GetStatistics() Statistics
}

func logFiles(datadir string) []uint64 {
	matches, err := filepath.Glob(fmt.Sprintf("%s/*.log", datadir))
	if err != nil {
		return nil
	}
	out := make([]uint64, 0)
	for idx := range matches {
		offsetStr := strings.TrimSuffix(filepath.Base(matches[idx]), ".log")
		offset, err := strconv.ParseUint(offsetStr, 10, 64)
		if err == nil {
			out = append(out, offset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Exists reports whether datadir holds a commitlog.
func Exists(datadir string) bool {
	return len(logFiles(datadir)) > 0
}

// Create initializes an empty log in datadir, whose segments will hold at most
// segmentMaxRecordCount entries.
func Create(datadir string, segmentMaxRecordCount uint64) (CommitLog, error) {
	if segmentMaxRecordCount == 0 {
		return nil, errors.New("segment max record count must be positive")
	}
	err := os.MkdirAll(datadir, 0750)
	if err != nil {
		return nil, err
	}
	if Exists(datadir) {
		return nil, ErrLogAlreadyExists
	}
	l := &commitLog{
		datadir:               datadir,
		segmentMaxRecordCount: segmentMaxRecordCount,
		ordered:               true,
		latest:                math.MinInt64,
	}
	return l, l.appendSegment(0)
}

// Open opens the log stored in datadir for reading.
func Open(datadir string) (CommitLog, error) {
	files := logFiles(datadir)
	if len(files) == 0 {
		return nil, ErrLogDoesNotExist
	}
	l := &commitLog{
		datadir:  datadir,
		segments: files,
		readOnly: true,
	}
	segment, err := openSegment(datadir, files[len(files)-1])
	if err != nil {
		return nil, errors.Wrap(ErrCorruptedLog, err.Error())
	}
	l.activeSegment = segment
	l.ordered, l.latest = l.scanOrder()
	return l, nil
}

// scanOrder checks the entries of every segment against their predecessors.
func (e *commitLog) scanOrder() (bool, int64) {
	latest := int64(math.MinInt64)
	for _, id := range e.segments {
		seg := e.activeSegment
		if id != seg.BaseOffset() {
			var err error
			seg, err = e.readSegment(id)
			if err != nil {
				return false, latest
			}
		}
		ordered := seg.Ordered() && (seg.CurrentOffset() == 0 || seg.Earliest() >= latest)
		if seg.CurrentOffset() > 0 {
			latest = seg.Latest()
		}
		if seg != e.activeSegment {
			seg.Close()
		}
		if !ordered {
			return false, latest
		}
	}
	return true, latest
}

// Ordered reports whether entries were stored by non-decreasing timestamps.
func (e *commitLog) Ordered() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.ordered
}

func (e *commitLog) Offset() uint64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return e.activeSegment.CurrentOffset() + e.activeSegment.BaseOffset()
}

// Earliest returns the timestamp of the first entry, or math.MaxInt64 when the log is empty.
func (e *commitLog) Earliest() int64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	seg, err := e.readSegment(e.segments[0])
	if err != nil {
		return math.MaxInt64
	}
	defer seg.Close()
	return seg.Earliest()
}

func (e *commitLog) Latest() int64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return e.activeSegment.Latest()
}
func (e *commitLog) Close() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.activeSegment != nil {
		err := e.activeSegment.Close()
		e.activeSegment = nil
		return err
	}
	return nil
}
func (e *commitLog) Sync() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.activeSegment == nil {
		return nil
	}
	return e.activeSegment.Sync()
}
func (e *commitLog) Datadir() string {
	return e.datadir
}

// Delete removes every segment of the log. The log must not be used afterwards.
func (e *commitLog) Delete() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.activeSegment != nil {
		e.activeSegment.Close()
		e.activeSegment = nil
	}
	for _, id := range e.segments {
		for _, filename := range []string{indexName(e.datadir, id), segmentName(e.datadir, id)} {
			if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	e.segments = nil
	return nil
}
func (e *commitLog) appendSegment(offset uint64) error {
	segment, err := createSegment(e.datadir, offset, e.segmentMaxRecordCount)
	if err != nil {
		return errors.Wrap(err, "failed to create new segment")
	}
	e.segments = append(e.segments, offset)
	if e.activeSegment != nil {
		err = e.activeSegment.Close()
		if err != nil {
			return err
		}
	}
	e.activeSegment = segment
	return nil
}

// lookupOffset returns the segment index of the segment containing the provided offset
func (e *commitLog) lookupOffset(offset uint64) int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.lookupOffsetUnlocked(offset)
}

func (e *commitLog) lookupOffsetUnlocked(offset uint64) int {
	count := len(e.segments)
	idx := sort.Search(count, func(i int) bool {
		return e.segments[i] > offset
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// LookupTimestamp returns the offset of the first entry whose timestamp is not
// before ts, or the log offset when there is none. Unordered logs cannot be
// searched: the first offset is returned and readers must filter entries.
func (e *commitLog) LookupTimestamp(ts int64) uint64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	count := len(e.segments)
	if count == 0 {
		return 0
	}
	if !e.ordered {
		return e.segments[0]
	}
	idx := sort.Search(count, func(i int) bool {
		seg, err := e.readSegment(e.segments[i])
		if err != nil {
			return true
		}
		defer seg.Close()
		return seg.Latest() >= ts
	})
	if idx >= count {
		return e.activeSegment.BaseOffset() + e.activeSegment.CurrentOffset()
	}
	seg, err := e.readSegment(e.segments[idx])
	if err != nil {
		return e.segments[idx]
	}
	defer seg.Close()
	return seg.BaseOffset() + seg.LookupTimestamp(ts)
}

func (e *commitLog) readSegment(id uint64) (Segment, error) {
	return openSegment(e.datadir, id)
}

func (e *commitLog) Reader() Cursor {
	return &cursor{
		log: e,
	}
}

func (e *commitLog) WriteEntry(ts int64, value []byte) (uint64, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.readOnly {
		return 0, ErrReadOnlyLog
	}
	if e.activeSegment == nil {
		return 0, os.ErrClosed
	}
	if segmentEntryCount := e.activeSegment.CurrentOffset(); segmentEntryCount >= e.segmentMaxRecordCount {
		err := e.appendSegment(e.activeSegment.BaseOffset() + segmentEntryCount)
		if err != nil {
			return 0, errors.Wrap(err, "failed to extend log")
		}
	}
	n, err := e.activeSegment.WriteEntry(ts, value)
	if err != nil {
		return 0, err
	}
	if ts < e.latest {
		e.ordered = false
	}
	e.latest = ts
	return n + e.activeSegment.BaseOffset(), nil
}
