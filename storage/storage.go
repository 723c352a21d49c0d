// Package storage defines the recording storage plugin contracts and the
// machinery shared by the backends.
package storage

import (
	"io"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vx-labs/recstore/record"
)

// StreamInfo describes a recorded stream.
type StreamInfo struct {
	Name     string
	TypeName string
	Type     record.TypeDescriptor
}

// Selector bounds what a StreamReader returns. Start and End are inclusive
// reception timestamps; MaxSamples caps the records returned by a single Read
// when positive. The zero Selector only matches records received at 0.
type Selector struct {
	Start      int64
	End        int64
	MaxSamples int
}

// All selects every record.
func All() Selector {
	return Selector{Start: math.MinInt64, End: math.MaxInt64}
}

func Between(start, end int64) Selector {
	return Selector{Start: start, End: end}
}

// Writer records one capture session.
type Writer interface {
	io.Closer
	Append(samples []record.Sample) error
	StoredCount() uint64
	StartTime() int64
	Destination() string
}

// PublicationWriter is implemented by writers able to store publication discovery samples.
type PublicationWriter interface {
	StorePublications(pubs []record.Publication) error
}

// Reader gives access to a recorded session.
type Reader interface {
	io.Closer
	StreamInfoReader() StreamInfoReader
	StreamReader(stream StreamInfo, sel Selector) (StreamReader, error)
}

// StreamReader returns recorded records in storage order, up to a time limit.
// Returned records are loaned and must be given back using ReturnLoan.
type StreamReader interface {
	io.Closer
	Read(timeLimit int64) ([]*record.Record, error)
	ReturnLoan(records []*record.Record)
	Finished() bool
	Reset() error
}

// Peeker is implemented by stream readers able to report the reception timestamp
// of the next record a Read would return.
type Peeker interface {
	NextTimestamp() (int64, bool)
}

// StreamInfoReader discovers the streams available in a recorded session.
type StreamInfoReader interface {
	Read() []StreamInfo
	ReturnLoan(infos []StreamInfo)
	Finished() bool
	Reset()
	ServiceStartTime() (int64, error)
	ServiceStopTime() (int64, error)
}

// Plugin is a storage backend.
type Plugin interface {
	OpenWriter(dest string, opts ...Option) (Writer, error)
	OpenReader(dest string, opts ...Option) (Reader, error)
}

var (
	pluginsMu sync.RWMutex
	plugins   = map[string]Plugin{}
)

// Register makes a backend available under kind. It panics when kind is already
// registered or when plugin is nil.
func Register(kind string, plugin Plugin) {
	pluginsMu.Lock()
	defer pluginsMu.Unlock()
	if plugin == nil {
		panic("storage: Register plugin is nil")
	}
	if _, dup := plugins[kind]; dup {
		panic("storage: Register called twice for plugin " + kind)
	}
	plugins[kind] = plugin
}

// Kinds returns the sorted list of the registered backends.
func Kinds() []string {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	out := make([]string, 0, len(plugins))
	for kind := range plugins {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

func lookup(kind string) (Plugin, error) {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	plugin, ok := plugins[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "storage kind %q", kind)
	}
	return plugin, nil
}

func OpenWriter(kind, dest string, opts ...Option) (Writer, error) {
	plugin, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	return plugin.OpenWriter(dest, opts...)
}

func OpenReader(kind, dest string, opts ...Option) (Reader, error) {
	plugin, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	return plugin.OpenReader(dest, opts...)
}

// MatchStream checks that stream designates the stream recorded under name.
// An empty stream name designates the recorded stream.
func MatchStream(name string, stream StreamInfo) error {
	if stream.Name != "" && stream.Name != name {
		return NotFoundError(nil, "stream "+stream.Name)
	}
	return nil
}

// DescribeStream returns the descriptor of the stream recorded under name.
func DescribeStream(name string) StreamInfo {
	return StreamInfo{Name: name, TypeName: record.HelloMsg.Name, Type: record.HelloMsg}
}
