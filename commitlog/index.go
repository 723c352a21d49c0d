package commitlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// an index value is the entry position in the segment file, followed by the entry timestamp.
const (
	indexValueSize = 16
)

var encoding = binary.BigEndian

var (
	ErrIndexAlreadyExists = errors.New("index already exists")
	ErrIndexDoesNotExist  = errors.New("index does not exist")
	ErrIndexFull          = errors.New("index is full")
	ErrMMapFailed         = errors.New("mmap failed")
	ErrFSyncFailed        = errors.New("file sync failed")
	ErrIndexCorrupt       = errors.New("index corrupt")
)

type Index interface {
	Sync() error
	FilePath() string
	Capacity() uint64
	Close() error
	writePosition(offset, position uint64, ts int64) error
	readPosition(offset uint64) (uint64, error)
	readTimestamp(offset uint64) (int64, error)
}

type index struct {
	path     string
	fd       *os.File
	data     []byte
	writable bool
}

func indexName(datadir string, id uint64) string {
	return path.Join(datadir, fmt.Sprintf("%d.index", id))
}

func createIndex(datadir string, id uint64, capacity uint64) (Index, error) {
	filename := indexName(datadir, id)
	if fileExists(filename) {
		return nil, ErrIndexAlreadyExists
	}
	fd, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return nil, err
	}
	err = fd.Truncate(int64(capacity * indexValueSize))
	if err != nil {
		fd.Close()
		os.Remove(filename)
		return nil, err
	}
	idx := &index{fd: fd, path: filename, writable: true}
	if err := idx.mmap(int(capacity * indexValueSize)); err != nil {
		fd.Close()
		os.Remove(filename)
		return nil, err
	}
	return idx, nil
}

// openIndex maps an existing index. Its capacity is derived from its file size.
func openIndex(datadir string, id uint64, writable bool) (Index, error) {
	filename := indexName(datadir, id)
	if !fileExists(filename) {
		return nil, ErrIndexDoesNotExist
	}
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	fd, err := os.OpenFile(filename, flag, 0640)
	if err != nil {
		return nil, err
	}
	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if info.Size() == 0 || info.Size()%indexValueSize != 0 {
		fd.Close()
		return nil, ErrIndexCorrupt
	}
	idx := &index{fd: fd, path: filename, writable: writable}
	if err := idx.mmap(int(info.Size())); err != nil {
		fd.Close()
		return nil, err
	}
	return idx, nil
}

func (i *index) FilePath() string {
	return i.path
}

func (i *index) Capacity() uint64 {
	return uint64(len(i.data) / indexValueSize)
}

func (i *index) mmap(size int) error {
	prot := unix.PROT_READ
	if i.writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(i.fd.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(ErrMMapFailed, err.Error())
	}
	i.data = data
	return nil
}

func (i *index) Sync() error {
	if !i.writable {
		return nil
	}
	if err := unix.Msync(i.data, unix.MS_SYNC); err != nil {
		return errors.Wrap(ErrMMapFailed, err.Error())
	}
	if err := i.fd.Sync(); err != nil {
		return ErrFSyncFailed
	}
	return nil
}

func (i *index) Close() error {
	err := i.Sync()
	if err != nil {
		return err
	}
	err = unix.Munmap(i.data)
	if err != nil {
		return err
	}
	i.data = nil
	return i.fd.Close()
}

func (i *index) writePosition(offset, position uint64, ts int64) error {
	if offset >= i.Capacity() {
		return ErrIndexFull
	}
	writeOffset := offset * indexValueSize
	encoding.PutUint64(i.data[writeOffset:writeOffset+8], position)
	encoding.PutUint64(i.data[writeOffset+8:writeOffset+indexValueSize], uint64(ts))
	return nil
}

func (i *index) readPosition(offset uint64) (uint64, error) {
	if offset >= i.Capacity() {
		return 0, ErrIndexCorrupt
	}
	readOffset := offset * indexValueSize
	return encoding.Uint64(i.data[readOffset : readOffset+8]), nil
}

func (i *index) readTimestamp(offset uint64) (int64, error) {
	if offset >= i.Capacity() {
		return 0, ErrIndexCorrupt
	}
	readOffset := offset * indexValueSize
	return int64(encoding.Uint64(i.data[readOffset+8 : readOffset+indexValueSize])), nil
}
