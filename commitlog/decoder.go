package commitlog

import (
	"io"
)

// Decoder reads the entries of a raw log stream, such as a Cursor.
type Decoder interface {
	// Decode returns the next entry, or ErrCorruptedEntry when it fails its checksum.
	Decode() (Entry, error)
}

type decoder struct {
	header []byte
	r      io.Reader
}

func NewDecoder(r io.Reader) Decoder {
	return &decoder{r: r, header: make([]byte, EntryHeaderSize)}
}

func (d *decoder) Decode() (Entry, error) {
	e, err := readEntry(d.r, d.header)
	if err != nil {
		return Entry{}, err
	}
	if !e.IsValid() {
		return Entry{}, ErrCorruptedEntry
	}
	return e, nil
}
