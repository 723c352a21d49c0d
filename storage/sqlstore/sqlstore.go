// Package sqlstore stores recording sessions in a SQLite database. A database
// holds any number of sessions; readers pick the latest one unless told otherwise.
package sqlstore

import (
	"database/sql"
	"io"
	"os"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pkg/errors"
	"github.com/vx-labs/recstore/internal/lock"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
	"go.uber.org/zap"
)

const (
	Kind = "sqlite"
	// SessionProperty selects the session a reader opens.
	SessionProperty = "session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	stream TEXT NOT NULL,
	start_timestamp INTEGER NOT NULL,
	end_timestamp INTEGER
);
CREATE TABLE IF NOT EXISTS records (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	sequence_number INTEGER NOT NULL,
	reception_timestamp INTEGER NOT NULL,
	valid INTEGER NOT NULL,
	data_id INTEGER,
	data_msg TEXT,
	PRIMARY KEY (session_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS records_by_timestamp ON records (session_id, reception_timestamp);
`

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

func openDB(dest string, readOnly bool) (*sql.DB, error) {
	dsn := "file:" + dest + "?_pragma=busy_timeout(5000)"
	if readOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Session describes a session stored in a database.
type Session struct {
	ID     string
	Stream string
	Info   record.SessionInfo
	Count  uint64
}

type sink struct {
	db      *sql.DB
	lockFd  *os.File
	session string
	stream  string
	tx      *sql.Tx
	insert  *sql.Stmt
}

func (s *sink) WriteStart(ts int64) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, stream, start_timestamp) VALUES (?, ?, ?)`, s.session, s.stream, ts)
	return err
}

func (s *sink) WriteRecord(r *record.Record) error {
	if s.tx == nil {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(`INSERT INTO records (session_id, sequence_number, reception_timestamp, valid, data_id, data_msg) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		s.tx, s.insert = tx, stmt
	}
	var id sql.NullInt64
	var msg sql.NullString
	valid := 0
	if r.Valid {
		valid = 1
		id = sql.NullInt64{Int64: int64(r.Data.ID), Valid: true}
		msg = sql.NullString{String: r.Data.Msg, Valid: true}
	}
	_, err := s.insert.Exec(s.session, int64(r.SequenceNumber), r.ReceptionTimestamp, valid, id, msg)
	return err
}

func (s *sink) Flush() error {
	if s.tx == nil {
		return nil
	}
	s.insert.Close()
	err := s.tx.Commit()
	s.tx, s.insert = nil, nil
	return err
}

func (s *sink) WriteEnd(ts int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE sessions SET end_timestamp = ? WHERE id = ?`, ts, s.session)
	return err
}

func (s *sink) Close() error {
	if s.tx != nil {
		s.insert.Close()
		s.tx.Rollback()
		s.tx, s.insert = nil, nil
	}
	err := s.db.Close()
	lock.Release(s.lockFd)
	if closeErr := s.lockFd.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Writer records a session as a new row of the sessions table.
type Writer struct {
	*storage.SessionWriter
	session string
}

// Session returns the identifier of the recorded session.
func (w *Writer) Session() string {
	return w.session
}

// Create starts a new session in the database stored in dest, creating it when
// needed. The database file is locked for the lifetime of the writer.
func Create(dest string, opts ...storage.Option) (*Writer, error) {
	config := storage.NewOptions(opts...)
	fd, err := os.OpenFile(dest, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, storage.IOError(err, "failed to create database file")
	}
	if err := lock.Acquire(fd); err != nil {
		fd.Close()
		return nil, storage.IOError(err, "failed to lock database file")
	}
	fail := func(err error, msg string) (*Writer, error) {
		lock.Release(fd)
		fd.Close()
		return nil, storage.IOError(err, msg)
	}
	db, err := openDB(dest, false)
	if err != nil {
		return fail(err, "failed to open database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fail(err, "failed to create database schema")
	}
	id := uuid.New().String()
	config.Logger.Debug("sqlite session created", zap.String("storage_destination", dest), zap.String("session_id", id))
	w, err := storage.NewWriter(Kind, dest, &sink{db: db, lockFd: fd, session: id, stream: config.StreamName}, config)
	if err != nil {
		return nil, err
	}
	return &Writer{SessionWriter: w, session: id}, nil
}

// Reader reads a session stored in a database.
type Reader struct {
	db      *sql.DB
	session Session
	logger  *zap.Logger
}

func scanSession(row interface{ Scan(...interface{}) error }) (Session, error) {
	s := Session{}
	var end sql.NullInt64
	var count int64
	err := row.Scan(&s.ID, &s.Stream, &s.Info.Start, &end, &count)
	if err != nil {
		return s, err
	}
	s.Info.End, s.Info.HasEnd = end.Int64, end.Valid
	s.Count = uint64(count)
	return s, nil
}

const sessionQuery = `SELECT id, stream, start_timestamp, end_timestamp,
	(SELECT COUNT(*) FROM records WHERE records.session_id = sessions.id)
	FROM sessions`

// Sessions lists the sessions stored in dest, oldest first.
func Sessions(dest string) ([]Session, error) {
	if err := storage.CheckExists(dest); err != nil {
		return nil, err
	}
	db, err := openDB(dest, true)
	if err != nil {
		return nil, storage.IOError(err, "failed to open database")
	}
	defer db.Close()
	rows, err := db.Query(sessionQuery + ` ORDER BY start_timestamp, rowid`)
	if err != nil {
		return nil, storage.Classify(err, "failed to list sessions")
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storage.Classify(err, "failed to read session")
		}
		out = append(out, s)
	}
	return out, storage.Classify(rows.Err(), "failed to list sessions")
}

func Open(dest string, opts ...storage.Option) (*Reader, error) {
	config := storage.NewOptions(opts...)
	if err := storage.CheckExists(dest); err != nil {
		return nil, err
	}
	db, err := openDB(dest, true)
	if err != nil {
		return nil, storage.IOError(err, "failed to open database")
	}
	var row *sql.Row
	if id, ok := config.Property(SessionProperty); ok {
		row = db.QueryRow(sessionQuery+` WHERE id = ?`, id)
	} else {
		row = db.QueryRow(sessionQuery + ` ORDER BY start_timestamp DESC, rowid DESC LIMIT 1`)
	}
	session, err := scanSession(row)
	if err != nil {
		db.Close()
		// a database without schema holds no session either
		return nil, storage.NotFoundError(err, "session")
	}
	logger := config.Logger.With(zap.String("storage_backend", Kind), zap.String("storage_destination", dest), zap.String("session_id", session.ID))
	logger.Debug("storage opened", zap.Uint64("stored_records", session.Count))
	return &Reader{db: db, session: session, logger: logger}, nil
}

// Session returns the session read.
func (r *Reader) Session() Session {
	return r.session
}

func (r *Reader) StreamInfoReader() storage.StreamInfoReader {
	return storage.NewStreamInfoReader(storage.DescribeStream(r.session.Stream), r.session.Info)
}

type source struct {
	db      *sql.DB
	session string
	from    int64
	rows    *sql.Rows
}

func (s *source) query() error {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	rows, err := s.db.Query(`SELECT sequence_number, reception_timestamp, valid, data_id, data_msg FROM records
		WHERE session_id = ? AND reception_timestamp >= ? ORDER BY sequence_number`, s.session, s.from)
	if err != nil {
		return err
	}
	s.rows = rows
	return nil
}

func (s *source) Next(r *record.Record) error {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	var seq int64
	var valid int
	var id sql.NullInt64
	var msg sql.NullString
	if err := s.rows.Scan(&seq, &r.ReceptionTimestamp, &valid, &id, &msg); err != nil {
		return errors.Wrap(record.ErrMalformed, err.Error())
	}
	r.SequenceNumber = uint64(seq)
	r.Valid = valid != 0
	r.Data = record.Payload{}
	if r.Valid {
		if !id.Valid || !msg.Valid {
			return errors.Wrapf(record.ErrMalformed, "record %d: missing data", seq)
		}
		if id.Int64 != int64(int32(id.Int64)) {
			return errors.Wrapf(record.ErrMalformed, "record %d: data id out of range", seq)
		}
		r.Data = record.Payload{ID: int32(id.Int64), Msg: msg.String}
	}
	return nil
}
func (s *source) Rewind() error {
	s.from = -1 << 63
	return s.query()
}
func (s *source) SeekTimestamp(ts int64) error {
	s.from = ts
	return s.query()
}
func (s *source) Close() error {
	if s.rows != nil {
		return s.rows.Close()
	}
	return nil
}

func (r *Reader) StreamReader(stream storage.StreamInfo, sel storage.Selector) (storage.StreamReader, error) {
	if err := storage.MatchStream(r.session.Stream, stream); err != nil {
		return nil, err
	}
	return storage.NewStreamReader(Kind, &source{db: r.db, session: r.session.ID}, sel, r.logger), nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}
