// Package logstore stores recording sessions in a segmented commitlog: the
// records in the directory N, the session metadata in N.info.
package logstore

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/vx-labs/recstore/commitlog"
	"github.com/vx-labs/recstore/internal/lock"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.uber.org/zap"
)

const (
	Kind       = "commitlog"
	InfoSuffix = ".info"
	// SegmentMaxRecordsProperty sets the number of records stored in each log segment.
	SegmentMaxRecordsProperty = "segment_max_records"
	DefaultSegmentMaxRecords  = 250
)

func init() {
	storage.Register(Kind, plugin{})
}

type plugin struct{}

func (plugin) OpenWriter(dest string, opts ...storage.Option) (storage.Writer, error) {
	return Create(dest, opts...)
}

func (plugin) OpenReader(dest string, opts ...storage.Option) (storage.Reader, error) {
	r, err := Open(dest, opts...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

type sink struct {
	log  commitlog.CommitLog
	info *os.File
	buf  []byte
}

func (s *sink) WriteStart(ts int64) error {
	return record.WriteSessionStart(s.info, ts)
}
func (s *sink) WriteRecord(r *record.Record) error {
	s.buf = record.AppendBinary(s.buf[:0], r)
	_, err := s.log.WriteEntry(r.ReceptionTimestamp, s.buf)
	return err
}
func (s *sink) Flush() error { return nil }
func (s *sink) WriteEnd(ts int64) error {
	if err := s.log.Sync(); err != nil {
		return err
	}
	if err := record.WriteSessionEnd(s.info, ts); err != nil {
		return err
	}
	return s.info.Sync()
}
func (s *sink) Close() error {
	err := s.log.Close()
	lock.Release(s.info)
	if closeErr := s.info.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Create starts a session stored under dest, deleting any log previously stored there.
func Create(dest string, opts ...storage.Option) (storage.Writer, error) {
	config := storage.NewOptions(opts...)
	dest, err := storage.ResolveDestination(dest, config)
	if err != nil {
		return nil, err
	}
	segmentMaxRecords, err := config.IntProperty(SegmentMaxRecordsProperty, DefaultSegmentMaxRecords)
	if err != nil {
		return nil, err
	}
	if segmentMaxRecords <= 0 {
		return nil, storage.Formatf("invalid %s property %d", SegmentMaxRecordsProperty, segmentMaxRecords)
	}
	info, err := os.OpenFile(dest+InfoSuffix, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, storage.IOError(err, "failed to create metadata file")
	}
	if err := lock.Acquire(info); err != nil {
		info.Close()
		return nil, storage.IOError(err, "failed to lock metadata file")
	}
	fail := func(err error, msg string) (storage.Writer, error) {
		lock.Release(info)
		info.Close()
		return nil, storage.IOError(err, msg)
	}
	if err := info.Truncate(0); err != nil {
		return fail(err, "failed to truncate metadata file")
	}
	if commitlog.Exists(dest) {
		previous, err := commitlog.Open(dest)
		if err != nil {
			return fail(err, "failed to open previous log")
		}
		if err := previous.Delete(); err != nil {
			return fail(err, "failed to delete previous log")
		}
	}
	log, err := commitlog.Create(dest, uint64(segmentMaxRecords))
	if err != nil {
		return fail(err, "failed to create log")
	}
	config.Logger.Debug("commitlog created", zap.String("storage_destination", dest), zap.Int("segment_max_records", segmentMaxRecords))
	return storage.NewWriter(Kind, dest, &sink{log: log, info: info}, config)
}

// Reader reads a session recorded by a commitlog writer.
type Reader struct {
	log     commitlog.CommitLog
	config  storage.Options
	session record.SessionInfo
	logger  *zap.Logger
}

func Open(dest string, opts ...storage.Option) (*Reader, error) {
	config := storage.NewOptions(opts...)
	if err := storage.CheckExists(dest); err != nil {
		return nil, err
	}
	session, err := storage.ReadInfoFile(dest + InfoSuffix)
	if err != nil {
		return nil, err
	}
	log, err := commitlog.Open(dest)
	if err != nil {
		if errors.Is(err, commitlog.ErrLogDoesNotExist) {
			return nil, storage.NotFoundError(err, "commitlog")
		}
		if errors.Is(err, commitlog.ErrCorruptedLog) {
			return nil, storage.FormatError(err, "failed to open commitlog")
		}
		return nil, storage.IOError(err, "failed to open commitlog")
	}
	logger := config.Logger.With(zap.String("storage_backend", Kind), zap.String("storage_destination", dest))
	stats := log.GetStatistics()
	logger.Debug("storage opened", zap.Uint64("segment_count", stats.SegmentCount), zap.Uint64("stored_bytes", stats.StoredBytes))
	return &Reader{log: log, config: config, session: session, logger: logger}, nil
}

func (r *Reader) StreamInfoReader() storage.StreamInfoReader {
	return storage.NewStreamInfoReader(storage.DescribeStream(r.config.StreamName), r.session)
}

// Statistics returns the statistics of the underlying log.
func (r *Reader) Statistics() commitlog.Statistics {
	return r.log.GetStatistics()
}

type source struct {
	log    commitlog.CommitLog
	cursor commitlog.Cursor
	dec    commitlog.Decoder
}

func (s *source) Next(r *record.Record) error {
	entry, err := s.dec.Decode()
	if err != nil {
		switch err {
		case io.EOF:
			return io.EOF
		case io.ErrUnexpectedEOF, commitlog.ErrCorruptedEntry, commitlog.ErrEntryTooBig:
			return errors.Wrap(record.ErrMalformed, err.Error())
		default:
			return err
		}
	}
	if err := record.UnmarshalBinary(entry.Payload(), r); err != nil {
		return errors.Wrapf(err, "log offset %d", entry.Offset())
	}
	if r.ReceptionTimestamp != entry.Timestamp() {
		return errors.Wrapf(record.ErrMalformed, "log offset %d: timestamp mismatch", entry.Offset())
	}
	return nil
}
func (s *source) Rewind() error {
	_, err := s.cursor.Seek(0, io.SeekStart)
	return err
}
// SeekTimestamp skips entries through the log index. Sessions recorded out of
// timestamp order are scanned from their start instead.
func (s *source) SeekTimestamp(ts int64) error {
	if !s.log.Ordered() {
		return s.Rewind()
	}
	_, err := s.cursor.Seek(int64(s.log.LookupTimestamp(ts)), io.SeekStart)
	return err
}
func (s *source) Close() error { return s.cursor.Close() }

func (r *Reader) StreamReader(stream storage.StreamInfo, sel storage.Selector) (storage.StreamReader, error) {
	if err := storage.MatchStream(r.config.StreamName, stream); err != nil {
		return nil, err
	}
	cursor := r.log.Reader()
	return storage.NewStreamReader(Kind, &source{log: r.log, cursor: cursor, dec: commitlog.NewDecoder(cursor)}, sel, r.logger), nil
}

func (r *Reader) Close() error {
	return r.log.Close()
}
