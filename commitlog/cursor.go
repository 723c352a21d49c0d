package commitlog

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Cursor reads the raw entries of a log, across its segments.
type Cursor interface {
	io.Seeker
	io.WriterTo
	io.Reader
	io.Closer
}

type cursor struct {
	currentIdx     int
	mtx            sync.Mutex
	currentSegment Segment
	currentReader  io.Reader
	log            *commitLog
}

func (c *cursor) Close() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.closeCurrentSegment()
}

func (c *cursor) closeCurrentSegment() error {
	c.currentReader = nil
	if c.currentSegment != nil {
		err := c.currentSegment.Close()
		c.currentSegment = nil
		return err
	}
	return nil
}

// Seek moves the cursor to the entry stored at the provided log offset.
func (c *cursor) Seek(offset int64, whence int) (int64, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	switch whence {
	case io.SeekStart:
		return c.seekFromStart(offset)
	case io.SeekCurrent:
		return 0, errors.New("SeekCurrent unsupported when reading the log")
	default:
		return 0, errors.New("invalid whence")
	}
}

func (c *cursor) seekFromStart(offset int64) (int64, error) {
	if offset < 0 {
		return 0, errors.New("negative offset")
	}
	idx := c.log.lookupOffset(uint64(offset))
	if err := c.closeCurrentSegment(); err != nil {
		return 0, err
	}
	c.currentIdx = idx
	if err := c.openCurrentSegment(); err != nil {
		return 0, err
	}
	r, err := c.currentSegment.ReaderFrom(uint64(offset) - c.currentSegment.BaseOffset())
	if err != nil {
		return 0, err
	}
	c.currentReader = r
	return offset, nil
}

func (c *cursor) doesSegmentExists(idx int) bool {
	c.log.mtx.Lock()
	defer c.log.mtx.Unlock()
	return idx < len(c.log.segments)
}

func (c *cursor) openCurrentSegment() error {
	if !c.doesSegmentExists(c.currentIdx) {
		return io.EOF
	}
	c.log.mtx.Lock()
	id := c.log.segments[c.currentIdx]
	c.log.mtx.Unlock()
	segment, err := c.log.readSegment(id)
	if err != nil {
		return err
	}
	c.currentSegment = segment
	return nil
}

func (c *cursor) ensureReader() error {
	if c.currentReader != nil {
		return nil
	}
	if c.currentSegment == nil {
		if err := c.openCurrentSegment(); err != nil {
			return err
		}
	}
	r, err := c.currentSegment.ReaderFrom(0)
	if err != nil {
		return err
	}
	c.currentReader = r
	return nil
}

// next moves the cursor to the following segment, returning io.EOF on the last one.
func (c *cursor) next() error {
	if !c.doesSegmentExists(c.currentIdx + 1) {
		return io.EOF
	}
	if err := c.closeCurrentSegment(); err != nil {
		return err
	}
	c.currentIdx++
	return nil
}

func (c *cursor) Read(p []byte) (int, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	var total int

	for total < len(p) {
		if err := c.ensureReader(); err != nil {
			return total, err
		}
		n, err := c.currentReader.Read(p[total:])
		total += n
		if err == io.EOF {
			if err := c.next(); err != nil {
				if total > 0 && err == io.EOF {
					return total, nil
				}
				return total, err
			}
			continue
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *cursor) WriteTo(w io.Writer) (int64, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	var total int64

	for {
		if err := c.ensureReader(); err != nil {
			return total, err
		}
		n, err := io.Copy(w, c.currentReader)
		total += n
		if err != nil {
			return total, err
		}
		if err := c.next(); err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}
