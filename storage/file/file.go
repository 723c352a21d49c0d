// Package file stores recording sessions as labeled lines text files: the
// records in N, the session metadata in N.info and the publication discovery
// samples in N.pub.
package file

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vx-labs/recstore/internal/lock"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.uber.org/zap"
)

const (
	Kind              = "file"
	InfoSuffix        = ".info"
	PublicationSuffix = ".pub"
)

func init() {
	storage.Register(Kind, plugin{})
}

type plugin struct{}

func (plugin) OpenWriter(dest string, opts ...storage.Option) (storage.Writer, error) {
	w, err := Create(dest, opts...)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (plugin) OpenReader(dest string, opts ...storage.Option) (storage.Reader, error) {
	r, err := Open(dest, opts...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

type sink struct {
	data   *os.File
	info   *os.File
	pub    *os.File
	buf    *bufio.Writer
	enc    *record.Encoder
	pubEnc *record.Encoder

	// pubMtx guards the publication file against a concurrent Close.
	pubMtx   sync.Mutex
	pubCount uint64
	closed   bool
}

func (s *sink) WriteStart(ts int64) error {
	return record.WriteSessionStart(s.info, ts)
}
func (s *sink) WriteRecord(r *record.Record) error {
	return s.enc.Encode(r)
}
func (s *sink) Flush() error {
	return s.buf.Flush()
}
func (s *sink) WriteEnd(ts int64) error {
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if err := s.data.Sync(); err != nil {
		return err
	}
	if err := record.WriteSessionEnd(s.info, ts); err != nil {
		return err
	}
	return s.info.Sync()
}
// storePublications writes pubs to the publication file, unless the sink was closed.
func (s *sink) storePublications(pubs []record.Publication) error {
	s.pubMtx.Lock()
	defer s.pubMtx.Unlock()
	if s.closed {
		return storage.ErrAlreadyClosed
	}
	for idx := range pubs {
		if err := s.pubEnc.EncodePublication(s.pubCount, &pubs[idx]); err != nil {
			return storage.Classify(err, "failed to write publication")
		}
		s.pubCount++
	}
	return nil
}

func (s *sink) Close() error {
	s.pubMtx.Lock()
	defer s.pubMtx.Unlock()
	s.closed = true
	lock.Release(s.data)
	var firstErr error
	for _, f := range []*os.File{s.data, s.info, s.pub} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Writer records a session in the text files of a destination.
type Writer struct {
	*storage.SessionWriter
	sink *sink
}

// Create truncates or creates the files of dest, and starts a session. The data
// file is locked for the lifetime of the writer.
func Create(dest string, opts ...storage.Option) (*Writer, error) {
	config := storage.NewOptions(opts...)
	data, err := os.OpenFile(dest, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, storage.IOError(err, "failed to create data file")
	}
	if err := lock.Acquire(data); err != nil {
		data.Close()
		return nil, storage.IOError(err, "failed to lock data file")
	}
	if err := data.Truncate(0); err != nil {
		data.Close()
		return nil, storage.IOError(err, "failed to truncate data file")
	}
	info, err := os.Create(dest + InfoSuffix)
	if err != nil {
		data.Close()
		return nil, storage.IOError(err, "failed to create metadata file")
	}
	pub, err := os.Create(dest + PublicationSuffix)
	if err != nil {
		data.Close()
		info.Close()
		return nil, storage.IOError(err, "failed to create publication file")
	}
	s := &sink{data: data, info: info, pub: pub, buf: bufio.NewWriter(data)}
	s.enc = record.NewEncoder(s.buf)
	s.pubEnc = record.NewEncoder(pub)
	w, err := storage.NewWriter(Kind, dest, s, config)
	if err != nil {
		return nil, err
	}
	return &Writer{SessionWriter: w, sink: s}, nil
}

// StorePublications appends publication discovery samples to N.pub.
func (w *Writer) StorePublications(pubs []record.Publication) error {
	for idx := range pubs {
		if pubs[idx].Valid {
			if err := record.ValidateMessage(pubs[idx].TopicName + pubs[idx].TypeName); err != nil {
				return storage.FormatError(err, "invalid publication")
			}
		}
	}
	if w.Closed() {
		return storage.ErrAlreadyClosed
	}
	return w.sink.storePublications(pubs)
}

var _ storage.PublicationWriter = &Writer{}

// Reader reads a session recorded by a Writer.
type Reader struct {
	dest    string
	config  storage.Options
	session record.SessionInfo
	logger  *zap.Logger
}

// Open checks that the files of dest exist, and parses the session metadata.
func Open(dest string, opts ...storage.Option) (*Reader, error) {
	config := storage.NewOptions(opts...)
	if err := storage.CheckExists(dest); err != nil {
		return nil, err
	}
	session, err := storage.ReadInfoFile(dest + InfoSuffix)
	if err != nil {
		return nil, err
	}
	logger := config.Logger.With(zap.String("storage_backend", Kind), zap.String("storage_destination", dest))
	logger.Debug("storage opened", zap.Int64("start_timestamp", session.Start), zap.Bool("closed_session", session.HasEnd))
	return &Reader{dest: dest, config: config, session: session, logger: logger}, nil
}

func (r *Reader) StreamInfoReader() storage.StreamInfoReader {
	return storage.NewStreamInfoReader(storage.DescribeStream(r.config.StreamName), r.session)
}

type source struct {
	fd  *os.File
	dec *record.Decoder
}

func (s *source) Next(r *record.Record) error { return s.dec.Decode(r) }
func (s *source) Rewind() error {
	if _, err := s.fd.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.dec.Reset(s.fd)
	return nil
}
func (s *source) Close() error { return s.fd.Close() }

func (r *Reader) StreamReader(stream storage.StreamInfo, sel storage.Selector) (storage.StreamReader, error) {
	if err := storage.MatchStream(r.config.StreamName, stream); err != nil {
		return nil, err
	}
	fd, err := os.Open(r.dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NotFoundError(err, "data file")
		}
		return nil, storage.IOError(err, "failed to open data file")
	}
	return storage.NewStreamReader(Kind, &source{fd: fd, dec: record.NewDecoder(fd)}, sel, r.logger), nil
}

func (r *Reader) Close() error { return nil }

// ReadPublications returns the publication discovery samples recorded in dest.
func ReadPublications(dest string) ([]record.Publication, error) {
	fd, err := os.Open(dest + PublicationSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NotFoundError(err, "publication file")
		}
		return nil, storage.IOError(err, "failed to open publication file")
	}
	defer fd.Close()
	dec := record.NewDecoder(fd)
	var out []record.Publication
	for {
		p := record.Publication{}
		_, err := dec.DecodePublication(&p)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, storage.Classify(errors.WithStack(err), "failed to read publications")
		}
		out = append(out, p)
	}
}
