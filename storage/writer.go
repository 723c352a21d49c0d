package storage

import (
	"sync"
	"time"

	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/stats"
	"go.uber.org/zap"
)

// RecordSink is the persistence a backend provides to NewWriter.
type RecordSink interface {
	WriteStart(ts int64) error
	WriteRecord(r *record.Record) error
	// Flush makes the records written so far durable enough to be read back.
	Flush() error
	WriteEnd(ts int64) error
	// Close releases the sink resources. It is called once, after WriteEnd.
	Close() error
}

// SessionWriter implements Writer on top of a RecordSink.
type SessionWriter struct {
	mtx     sync.Mutex
	backend string
	dest    string
	sink    RecordSink
	logger  *zap.Logger
	clock   Clock
	start   int64
	count   uint64
	closed  bool
	scratch record.Record
}

// NewWriter starts a session on sink, writing its start timestamp. The sink is
// closed when the start timestamp cannot be written.
func NewWriter(backend, dest string, sink RecordSink, opts Options) (*SessionWriter, error) {
	w := &SessionWriter{
		backend: backend,
		dest:    dest,
		sink:    sink,
		logger:  opts.Logger.With(zap.String("storage_backend", backend), zap.String("storage_destination", dest)),
		clock:   opts.Clock,
	}
	w.start = w.clock.Now().UnixNano()
	if err := sink.WriteStart(w.start); err != nil {
		sink.Close()
		return nil, Classify(err, "failed to write session start")
	}
	w.logger.Debug("storage session started", zap.Int64("start_timestamp", w.start))
	return w, nil
}

func (w *SessionWriter) Append(samples []record.Sample) error {
	for idx := range samples {
		if samples[idx].Valid {
			if err := record.ValidateMessage(samples[idx].Data.Msg); err != nil {
				return FormatError(err, "invalid sample")
			}
		}
	}
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrAlreadyClosed
	}
	started := time.Now()
	for idx := range samples {
		w.scratch = record.Record{
			SequenceNumber:     w.count,
			ReceptionTimestamp: samples[idx].Timestamp,
			Valid:              samples[idx].Valid,
		}
		if samples[idx].Valid {
			w.scratch.Data = samples[idx].Data
		}
		if err := w.sink.WriteRecord(&w.scratch); err != nil {
			return Classify(err, "failed to write record")
		}
		w.count++
	}
	if err := w.sink.Flush(); err != nil {
		return Classify(err, "failed to flush records")
	}
	stats.RecordsAppended(w.backend, len(samples), started)
	return nil
}

func (w *SessionWriter) Close() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrAlreadyClosed
	}
	w.closed = true
	end := w.clock.Now().UnixNano()
	if end < w.start {
		end = w.start
	}
	err := w.sink.WriteEnd(end)
	closeErr := w.sink.Close()
	if err != nil {
		return Classify(err, "failed to write session end")
	}
	if closeErr != nil {
		return Classify(closeErr, "failed to close storage")
	}
	w.logger.Debug("storage session closed", zap.Uint64("stored_records", w.count), zap.Int64("end_timestamp", end))
	return nil
}

// Closed reports whether Close was called.
func (w *SessionWriter) Closed() bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.closed
}

func (w *SessionWriter) StoredCount() uint64 {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.count
}

func (w *SessionWriter) StartTime() int64   { return w.start }
func (w *SessionWriter) Destination() string { return w.dest }

var _ Writer = &SessionWriter{}
