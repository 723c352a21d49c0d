// Package convert copies recorded sessions to CSV or to another storage backend.
package convert

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
	"github.com/vx-labs/recstore/record"
	"github.com/vx-labs/recstore/storage"
)

// chunkSize bounds the records loaned at once while converting.
const chunkSize = 256

// CSVHeader lists the columns written by ToCSV.
var CSVHeader = []string{"stream", "sequence_number", "reception_timestamp", "valid_data", "id", "msg"}

type csvOpts struct {
	emptyValue string
	header     bool
}

type CSVOption func(*csvOpts)

// WithEmptyValue sets the representation of the data columns of invalid records.
func WithEmptyValue(v string) CSVOption {
	return func(o *csvOpts) { o.emptyValue = v }
}

// WithoutHeader disables the header row.
func WithoutHeader() CSVOption {
	return func(o *csvOpts) { o.header = false }
}

// each reads every record of every stream of r, in storage order.
func each(ctx context.Context, r storage.Reader, f func(storage.StreamInfo, *record.Record) error) error {
	infos := r.StreamInfoReader()
	infos.Reset()
	for !infos.Finished() {
		streams := infos.Read()
		for _, stream := range streams {
			if err := eachRecord(ctx, r, stream, f); err != nil {
				return err
			}
		}
		infos.ReturnLoan(streams)
		if len(streams) == 0 {
			break
		}
	}
	return nil
}

func eachRecord(ctx context.Context, r storage.Reader, stream storage.StreamInfo, f func(storage.StreamInfo, *record.Record) error) error {
	sr, err := r.StreamReader(stream, storage.Selector{Start: math.MinInt64, End: math.MaxInt64, MaxSamples: chunkSize})
	if err != nil {
		return err
	}
	defer sr.Close()
	for !sr.Finished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := sr.Read(math.MaxInt64)
		if err != nil {
			return err
		}
		for _, rec := range batch {
			if err := f(stream, rec); err != nil {
				sr.ReturnLoan(batch)
				return err
			}
		}
		sr.ReturnLoan(batch)
		if len(batch) == 0 {
			break
		}
	}
	return nil
}

// ToCSV writes the records of r to w as CSV rows, and returns the number of
// records written.
func ToCSV(ctx context.Context, r storage.Reader, w io.Writer, opts ...CSVOption) (uint64, error) {
	config := csvOpts{header: true}
	for _, opt := range opts {
		opt(&config)
	}
	out := csv.NewWriter(w)
	if config.header {
		if err := out.Write(CSVHeader); err != nil {
			return 0, errors.Wrap(err, "failed to write csv header")
		}
	}
	var count uint64
	row := make([]string, len(CSVHeader))
	err := each(ctx, r, func(stream storage.StreamInfo, rec *record.Record) error {
		row[0] = stream.Name
		row[1] = strconv.FormatUint(rec.SequenceNumber, 10)
		row[2] = strconv.FormatInt(rec.ReceptionTimestamp, 10)
		if rec.Valid {
			row[3] = "1"
			row[4] = strconv.FormatInt(int64(rec.Data.ID), 10)
			row[5] = rec.Data.Msg
		} else {
			row[3] = "0"
			row[4] = config.emptyValue
			row[5] = config.emptyValue
		}
		count++
		return out.Write(row)
	})
	out.Flush()
	if err == nil {
		err = out.Error()
	}
	return count, err
}

// ToStorage appends the records of r to w, and returns the number of records
// appended. Sequence numbers are assigned by w; w is left open.
func ToStorage(ctx context.Context, r storage.Reader, w storage.Writer) (uint64, error) {
	var count uint64
	pending := make([]record.Sample, 0, chunkSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := w.Append(pending); err != nil {
			return err
		}
		count += uint64(len(pending))
		pending = pending[:0]
		return nil
	}
	err := each(ctx, r, func(_ storage.StreamInfo, rec *record.Record) error {
		pending = append(pending, record.Sample{Timestamp: rec.ReceptionTimestamp, Valid: rec.Valid, Data: rec.Data})
		if len(pending) == chunkSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, flush()
}
