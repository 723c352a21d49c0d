package storage

import (
	"io"
	"math"
	"sync"

	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/stats"
	"go.uber.org/zap"
)

var recordPool = sync.Pool{
	New: func() interface{} { return &record.Record{} },
}

func getRecord() *record.Record {
	return recordPool.Get().(*record.Record)
}

func putRecord(r *record.Record) {
	*r = record.Record{}
	recordPool.Put(r)
}

// RecordSource is the sequential record access a backend provides to NewStreamReader.
type RecordSource interface {
	io.Closer
	// Next decodes the next stored record into r, returning io.EOF at the end of data.
	Next(r *record.Record) error
	// Rewind moves the source back to its first record.
	Rewind() error
}

// TimeSeeker is implemented by sources able to skip to the first record received
// at or after a timestamp. Seeking happens right after a Rewind.
type TimeSeeker interface {
	SeekTimestamp(ts int64) error
}

type streamReader struct {
	backend   string
	src       RecordSource
	sel       Selector
	logger    *zap.Logger
	peeked    *record.Record
	exhausted bool
	err       error
}

// NewStreamReader returns a StreamReader reading ahead one record from src.
// The first record is read before returning: an empty source is not an error,
// and a failure to decode it is reported by the first Read. Bounds are taken
// as given: use All to select every record.
func NewStreamReader(backend string, src RecordSource, sel Selector, logger *zap.Logger) StreamReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &streamReader{backend: backend, src: src, sel: sel, logger: logger}
	s.prime()
	return s
}

func (s *streamReader) prime() error {
	if s.peeked != nil {
		putRecord(s.peeked)
		s.peeked = nil
	}
	s.exhausted = false
	s.err = nil
	if err := s.src.Rewind(); err != nil {
		s.err = Classify(err, "failed to rewind storage")
		return s.err
	}
	if seeker, ok := s.src.(TimeSeeker); ok && s.sel.Start != math.MinInt64 {
		if err := seeker.SeekTimestamp(s.sel.Start); err != nil {
			s.err = Classify(err, "failed to seek storage")
			return s.err
		}
	}
	s.advance()
	if s.exhausted {
		s.logger.Info("no first sample, storage seems to be empty")
	}
	return nil
}

// advance refills the peek slot.
func (s *streamReader) advance() {
	for {
		r := getRecord()
		err := s.src.Next(r)
		if err == io.EOF {
			putRecord(r)
			s.exhausted = true
			return
		}
		if err != nil {
			putRecord(r)
			s.err = Classify(err, "failed to read record")
			return
		}
		if r.ReceptionTimestamp < s.sel.Start {
			putRecord(r)
			continue
		}
		s.peeked = r
		return
	}
}

func (s *streamReader) Read(timeLimit int64) ([]*record.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	if timeLimit > s.sel.End {
		timeLimit = s.sel.End
	}
	var out []*record.Record
	for s.peeked != nil && s.peeked.ReceptionTimestamp <= timeLimit {
		if s.sel.MaxSamples > 0 && len(out) >= s.sel.MaxSamples {
			break
		}
		out = append(out, s.peeked)
		s.peeked = nil
		s.advance()
		if s.err != nil {
			s.ReturnLoan(out)
			return nil, s.err
		}
	}
	stats.RecordsRead(s.backend, len(out))
	return out, nil
}

func (s *streamReader) ReturnLoan(records []*record.Record) {
	for idx := range records {
		if records[idx] != nil {
			putRecord(records[idx])
			records[idx] = nil
		}
	}
}

func (s *streamReader) Finished() bool {
	if s.err != nil {
		return false
	}
	if s.exhausted {
		return true
	}
	return s.peeked != nil && s.peeked.ReceptionTimestamp > s.sel.End
}

func (s *streamReader) NextTimestamp() (int64, bool) {
	if s.err != nil || s.peeked == nil || s.peeked.ReceptionTimestamp > s.sel.End {
		return 0, false
	}
	return s.peeked.ReceptionTimestamp, true
}

func (s *streamReader) Reset() error {
	return s.prime()
}

func (s *streamReader) Close() error {
	if s.peeked != nil {
		putRecord(s.peeked)
		s.peeked = nil
	}
	return s.src.Close()
}
