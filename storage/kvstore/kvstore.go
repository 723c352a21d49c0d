// Package kvstore stores recording sessions in a Badger key-value store. Record
// keys sort by reception timestamp, then sequence number.
package kvstore

import (
	"encoding/binary"
	"io"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.uber.org/zap"
)

const Kind = "badger"

var (
	startKey   = []byte("m/start")
	endKey     = []byte("m/end")
	dataPrefix = []byte("d/")
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

// dataKey flips the timestamp sign bit so that negative timestamps sort first.
func dataKey(ts int64, seq uint64) []byte {
	key := make([]byte, len(dataPrefix)+16)
	copy(key, dataPrefix)
	binary.BigEndian.PutUint64(key[len(dataPrefix):], uint64(ts)^(1<<63))
	binary.BigEndian.PutUint64(key[len(dataPrefix)+8:], seq)
	return key
}

func parseDataKey(key []byte) (int64, uint64, error) {
	if len(key) != len(dataPrefix)+16 {
		return 0, 0, errors.Wrapf(record.ErrMalformed, "invalid record key length %d", len(key))
	}
	ts := int64(binary.BigEndian.Uint64(key[len(dataPrefix):]) ^ (1 << 63))
	return ts, binary.BigEndian.Uint64(key[len(dataPrefix)+8:]), nil
}

func timestampValue(ts int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	return buf
}

type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Errorf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warnf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debugf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Debugf(f, v...) }

func openDB(dest string, logger *zap.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(dest).
		WithLogger(badgerLogger{l: logger.Sugar()}).
		WithValueLogFileSize(64 << 20).
		WithSyncWrites(false)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.IOError(err, "failed to open badger database")
	}
	return db, nil
}

type sink struct {
	db  *badger.DB
	txn *badger.Txn
}

func (s *sink) WriteStart(ts int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(startKey, timestampValue(ts))
	})
}

// WriteRecord adds r to the pending transaction, committing it when it grows too big.
func (s *sink) WriteRecord(r *record.Record) error {
	if s.txn == nil {
		s.txn = s.db.NewTransaction(true)
	}
	key := dataKey(r.ReceptionTimestamp, r.SequenceNumber)
	value := record.AppendBinary(nil, r)
	err := s.txn.Set(key, value)
	if err == badger.ErrTxnTooBig {
		if err := s.txn.Commit(); err != nil {
			s.txn = nil
			return err
		}
		s.txn = s.db.NewTransaction(true)
		err = s.txn.Set(key, value)
	}
	return err
}
func (s *sink) Flush() error {
	if s.txn == nil {
		return nil
	}
	err := s.txn.Commit()
	s.txn = nil
	return err
}
func (s *sink) WriteEnd(ts int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(endKey, timestampValue(ts))
	}); err != nil {
		return err
	}
	return s.db.Sync()
}
func (s *sink) Close() error {
	if s.txn != nil {
		s.txn.Discard()
		s.txn = nil
	}
	return s.db.Close()
}

// Create starts a session stored in the database directory dest, dropping any
// previous content. Badger locks the directory against other writers.
func Create(dest string, opts ...storage.Option) (storage.Writer, error) {
	config := storage.NewOptions(opts...)
	dest, err := storage.ResolveDestination(dest, config)
	if err != nil {
		return nil, err
	}
	db, err := openDB(dest, config.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.DropAll(); err != nil {
		db.Close()
		return nil, storage.IOError(err, "failed to drop previous session")
	}
	return storage.NewWriter(Kind, dest, &sink{db: db}, config)
}

// Reader reads a session recorded in a Badger database.
type Reader struct {
	db      *badger.DB
	config  storage.Options
	session record.SessionInfo
	logger  *zap.Logger
}

func readTimestamp(txn *badger.Txn, key []byte) (int64, bool, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	if len(value) != 8 {
		return 0, false, errors.Wrapf(record.ErrMalformed, "invalid %s value length %d", key, len(value))
	}
	return int64(binary.BigEndian.Uint64(value)), true, nil
}

func Open(dest string, opts ...storage.Option) (*Reader, error) {
	config := storage.NewOptions(opts...)
	if err := storage.CheckExists(dest); err != nil {
		return nil, err
	}
	db, err := openDB(dest, config.Logger)
	if err != nil {
		return nil, err
	}
	session := record.SessionInfo{}
	var found bool
	err = db.View(func(txn *badger.Txn) error {
		var err error
		session.Start, found, err = readTimestamp(txn, startKey)
		if err != nil || !found {
			return err
		}
		session.End, session.HasEnd, err = readTimestamp(txn, endKey)
		return err
	})
	if err == nil && !found {
		err = storage.NotFoundError(nil, "session metadata")
	}
	if err != nil {
		db.Close()
		return nil, storage.Classify(err, "failed to read session metadata")
	}
	logger := config.Logger.With(zap.String("storage_backend", Kind), zap.String("storage_destination", dest))
	logger.Debug("storage opened", zap.Int64("start_timestamp", session.Start), zap.Bool("closed_session", session.HasEnd))
	return &Reader{db: db, config: config, session: session, logger: logger}, nil
}

func (r *Reader) StreamInfoReader() storage.StreamInfoReader {
	return storage.NewStreamInfoReader(storage.DescribeStream(r.config.StreamName), r.session)
}

type source struct {
	txn *badger.Txn
	it  *badger.Iterator
}

func (s *source) Next(r *record.Record) error {
	if !s.it.ValidForPrefix(dataPrefix) {
		return io.EOF
	}
	item := s.it.Item()
	ts, seq, err := parseDataKey(item.Key())
	if err != nil {
		return err
	}
	err = item.Value(func(value []byte) error {
		return record.UnmarshalBinary(value, r)
	})
	if err != nil {
		return err
	}
	if r.ReceptionTimestamp != ts || r.SequenceNumber != seq {
		return errors.Wrapf(record.ErrMalformed, "record %d: key does not match value", seq)
	}
	s.it.Next()
	return nil
}
func (s *source) Rewind() error {
	s.it.Seek(dataPrefix)
	return nil
}
func (s *source) SeekTimestamp(ts int64) error {
	s.it.Seek(dataKey(ts, 0))
	return nil
}
func (s *source) Close() error {
	s.it.Close()
	s.txn.Discard()
	return nil
}

func (r *Reader) StreamReader(stream storage.StreamInfo, sel storage.Selector) (storage.StreamReader, error) {
	if err := storage.MatchStream(r.config.StreamName, stream); err != nil {
		return nil, err
	}
	txn := r.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	return storage.NewStreamReader(Kind, &source{txn: txn, it: it}, sel, r.logger), nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}
