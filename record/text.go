package record

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	sampleNumberLabel       = "Sample number: "
	receptionTimestampLabel = "Reception timestamp: "
	validDataLabel          = "Valid data: "
	dataIDLabel             = "Data.id: "
	dataMsgLabel            = "Data.msg: "
	topicNameLabel          = "Topic name: "
	typeNameLabel           = "Type name: "
)

// Encoder writes records using the labeled lines text format. Each record is handed
// to the underlying writer with a single Write call.
type Encoder struct {
	w   io.Writer
	buf []byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, 256)}
}

func (e *Encoder) appendHeader(b []byte, seq uint64, ts int64, valid bool) []byte {
	b = append(b, sampleNumberLabel...)
	b = strconv.AppendUint(b, seq, 10)
	b = append(b, '\n')
	b = append(b, receptionTimestampLabel...)
	b = strconv.AppendInt(b, ts, 10)
	b = append(b, '\n')
	b = append(b, validDataLabel...)
	if valid {
		b = append(b, '1')
	} else {
		b = append(b, '0')
	}
	return append(b, '\n')
}

// Encode writes r, followed by its blank terminator line.
func (e *Encoder) Encode(r *Record) error {
	b := e.appendHeader(e.buf[:0], r.SequenceNumber, r.ReceptionTimestamp, r.Valid)
	if r.Valid {
		if err := ValidateMessage(r.Data.Msg); err != nil {
			return err
		}
		b = append(b, dataIDLabel...)
		b = strconv.AppendInt(b, int64(r.Data.ID), 10)
		b = append(b, '\n')
		b = append(b, dataMsgLabel...)
		b = append(b, r.Data.Msg...)
		b = append(b, '\n')
	}
	b = append(b, '\n')
	e.buf = b
	_, err := e.w.Write(b)
	return err
}

// EncodePublication writes a publication discovery sample numbered seq.
func (e *Encoder) EncodePublication(seq uint64, p *Publication) error {
	b := e.appendHeader(e.buf[:0], seq, p.Timestamp, p.Valid)
	if p.Valid {
		if err := ValidateMessage(p.TopicName); err != nil {
			return err
		}
		if err := ValidateMessage(p.TypeName); err != nil {
			return err
		}
		b = append(b, topicNameLabel...)
		b = append(b, p.TopicName...)
		b = append(b, '\n')
		b = append(b, typeNameLabel...)
		b = append(b, p.TypeName...)
		b = append(b, '\n')
	}
	b = append(b, '\n')
	e.buf = b
	_, err := e.w.Write(b)
	return err
}

// Decoder reads records written by an Encoder. Data labels may be indented,
// as the companion recorder writes them behind four spaces; labels must
// otherwise match exactly, separating blank included.
type Decoder struct {
	r    *bufio.Reader
	line int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Reset discards any buffered data and makes the decoder read from r.
func (d *Decoder) Reset(r io.Reader) {
	d.r.Reset(r)
	d.line = 0
}

var errEndOfData = errors.New("end of data")

// readLine returns the next line without its line terminator. A line missing its
// terminator at the end of the input is reported as malformed.
func (d *Decoder) readLine() (string, error) {
	s, err := d.r.ReadString('\n')
	if err == nil {
		d.line++
		return strings.TrimSuffix(s[:len(s)-1], "\r"), nil
	}
	if err == io.EOF {
		if s == "" {
			return "", errEndOfData
		}
		return "", errors.Wrapf(ErrMalformed, "line %d: truncated line %q", d.line+1, s)
	}
	return "", err
}

func (d *Decoder) field(label string, indented bool) (string, error) {
	line, err := d.readLine()
	if err == errEndOfData {
		return "", errors.Wrapf(ErrMalformed, "line %d: unexpected end of data, expected %q", d.line+1, label)
	}
	if err != nil {
		return "", err
	}
	if indented {
		line = strings.TrimLeft(line, " \t")
	}
	if !strings.HasPrefix(line, label) {
		return "", errors.Wrapf(ErrMalformed, "line %d: expected %q, got %q", d.line, label, line)
	}
	return line[len(label):], nil
}

func (d *Decoder) header() (seq uint64, ts int64, valid bool, err error) {
	line, err := d.readLine()
	if err == errEndOfData {
		return 0, 0, false, io.EOF
	}
	if err != nil {
		return 0, 0, false, err
	}
	if !strings.HasPrefix(line, sampleNumberLabel) {
		return 0, 0, false, errors.Wrapf(ErrMalformed, "line %d: expected %q, got %q", d.line, sampleNumberLabel, line)
	}
	seq, err = strconv.ParseUint(line[len(sampleNumberLabel):], 10, 64)
	if err != nil {
		return 0, 0, false, errors.Wrapf(ErrMalformed, "line %d: invalid sample number: %v", d.line, err)
	}
	value, err := d.field(receptionTimestampLabel, false)
	if err != nil {
		return 0, 0, false, err
	}
	ts, err = strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, 0, false, errors.Wrapf(ErrMalformed, "line %d: invalid reception timestamp: %v", d.line, err)
	}
	value, err = d.field(validDataLabel, false)
	if err != nil {
		return 0, 0, false, err
	}
	switch value {
	case "1":
		valid = true
	case "0":
		valid = false
	default:
		return 0, 0, false, errors.Wrapf(ErrMalformed, "line %d: invalid valid data flag %q", d.line, value)
	}
	return seq, ts, valid, nil
}

func (d *Decoder) terminator() error {
	line, err := d.readLine()
	if err == errEndOfData {
		return errors.Wrapf(ErrMalformed, "line %d: unexpected end of data, expected record terminator", d.line+1)
	}
	if err != nil {
		return err
	}
	if line != "" {
		return errors.Wrapf(ErrMalformed, "line %d: expected record terminator, got %q", d.line, line)
	}
	return nil
}

// Decode reads the next record into r. It returns io.EOF when the input ends
// cleanly before a record starts; any other failure leaves r undefined.
func (d *Decoder) Decode(r *Record) error {
	seq, ts, valid, err := d.header()
	if err != nil {
		return err
	}
	*r = Record{SequenceNumber: seq, ReceptionTimestamp: ts, Valid: valid}
	if valid {
		value, err := d.field(dataIDLabel, true)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return errors.Wrapf(ErrMalformed, "line %d: invalid Data.id: %v", d.line, err)
		}
		r.Data.ID = int32(id)
		r.Data.Msg, err = d.field(dataMsgLabel, true)
		if err != nil {
			return err
		}
	}
	return d.terminator()
}

// DecodePublication reads the next publication discovery sample into p and returns
// its sample number.
func (d *Decoder) DecodePublication(p *Publication) (uint64, error) {
	seq, ts, valid, err := d.header()
	if err != nil {
		return 0, err
	}
	*p = Publication{Timestamp: ts, Valid: valid}
	if valid {
		p.TopicName, err = d.field(topicNameLabel, false)
		if err != nil {
			return 0, err
		}
		p.TypeName, err = d.field(typeNameLabel, false)
		if err != nil {
			return 0, err
		}
	}
	return seq, d.terminator()
}
