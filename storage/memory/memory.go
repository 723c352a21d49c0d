// Package memory keeps recording sessions in memory. It is meant for tests.
package memory

import (
	"io"
	"sync"

	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.uber.org/zap"
)

const Kind = "memory"

// Default is the store registered under Kind.
var Default = NewStore()

func init() {
	storage.Register(Kind, Default)
}

type session struct {
	mtx          sync.RWMutex
	info         record.SessionInfo
	records      []record.Record
	publications []record.Publication
	// closed is set once the writer of the session is closed
	closed bool
}

func (s *session) snapshot() (record.SessionInfo, []record.Record) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.info, s.records
}

// Store is a set of sessions indexed by destination.
type Store struct {
	mtx      sync.Mutex
	sessions map[string]*session
}

func NewStore() *Store {
	return &Store{sessions: map[string]*session{}}
}

// Delete forgets the session stored under dest.
func (s *Store) Delete(dest string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.sessions, dest)
}

// Publications returns the publication discovery samples stored under dest.
func (s *Store) Publications(dest string) ([]record.Publication, error) {
	s.mtx.Lock()
	sess, ok := s.sessions[dest]
	s.mtx.Unlock()
	if !ok {
		return nil, storage.NotFoundError(nil, dest)
	}
	sess.mtx.RLock()
	defer sess.mtx.RUnlock()
	return append([]record.Publication(nil), sess.publications...), nil
}

type sink struct {
	session *session
}

func (s *sink) WriteStart(ts int64) error {
	s.session.mtx.Lock()
	defer s.session.mtx.Unlock()
	s.session.info = record.SessionInfo{Start: ts}
	return nil
}
func (s *sink) WriteRecord(r *record.Record) error {
	s.session.mtx.Lock()
	defer s.session.mtx.Unlock()
	s.session.records = append(s.session.records, *r)
	return nil
}
func (s *sink) Flush() error { return nil }
func (s *sink) WriteEnd(ts int64) error {
	s.session.mtx.Lock()
	defer s.session.mtx.Unlock()
	s.session.info.End = ts
	s.session.info.HasEnd = true
	return nil
}
func (s *sink) Close() error {
	s.session.mtx.Lock()
	defer s.session.mtx.Unlock()
	s.session.closed = true
	return nil
}

type Writer struct {
	*storage.SessionWriter
	session *session
}

func (w *Writer) StorePublications(pubs []record.Publication) error {
	for idx := range pubs {
		if pubs[idx].Valid {
			if err := record.ValidateMessage(pubs[idx].TopicName + pubs[idx].TypeName); err != nil {
				return storage.FormatError(err, "invalid publication")
			}
		}
	}
	w.session.mtx.Lock()
	defer w.session.mtx.Unlock()
	if w.session.closed {
		return storage.ErrAlreadyClosed
	}
	w.session.publications = append(w.session.publications, pubs...)
	return nil
}

// OpenWriter replaces the session stored under dest by a new one.
func (s *Store) OpenWriter(dest string, opts ...storage.Option) (storage.Writer, error) {
	config := storage.NewOptions(opts...)
	sess := &session{}
	s.mtx.Lock()
	s.sessions[dest] = sess
	s.mtx.Unlock()
	w, err := storage.NewWriter(Kind, dest, &sink{session: sess}, config)
	if err != nil {
		return nil, err
	}
	return &Writer{SessionWriter: w, session: sess}, nil
}

type Reader struct {
	session *session
	config  storage.Options
	logger  *zap.Logger
}

func (s *Store) OpenReader(dest string, opts ...storage.Option) (storage.Reader, error) {
	config := storage.NewOptions(opts...)
	s.mtx.Lock()
	sess, ok := s.sessions[dest]
	s.mtx.Unlock()
	if !ok {
		return nil, storage.NotFoundError(nil, "session "+dest)
	}
	logger := config.Logger.With(zap.String("storage_backend", Kind), zap.String("storage_destination", dest))
	return &Reader{session: sess, config: config, logger: logger}, nil
}

func (r *Reader) StreamInfoReader() storage.StreamInfoReader {
	info, _ := r.session.snapshot()
	return storage.NewStreamInfoReader(storage.DescribeStream(r.config.StreamName), info)
}

type source struct {
	session *session
	pos     int
}

func (s *source) Next(r *record.Record) error {
	_, records := s.session.snapshot()
	if s.pos >= len(records) {
		return io.EOF
	}
	*r = records[s.pos]
	s.pos++
	return nil
}
func (s *source) Rewind() error { s.pos = 0; return nil }
func (s *source) Close() error  { return nil }

func (r *Reader) StreamReader(stream storage.StreamInfo, sel storage.Selector) (storage.StreamReader, error) {
	if err := storage.MatchStream(r.config.StreamName, stream); err != nil {
		return nil, err
	}
	return storage.NewStreamReader(Kind, &source{session: r.session}, sel, r.logger), nil
}

func (r *Reader) Close() error { return nil }
