package storage

import (
	"strconv"
	"time"

	"go.uber.org/zap"
)

const DefaultStreamName = "Example_Storage"

// Clock provides the session start and stop timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default wall clock.
var SystemClock Clock = systemClock{}

type Options struct {
	Logger     *zap.Logger
	Clock      Clock
	StreamName string
	// Properties holds backend specific settings, such as "auto_dir".
	Properties map[string]string
}

type Option func(Options) Options

func WithLogger(l *zap.Logger) Option {
	return func(o Options) Options {
		o.Logger = l
		return o
	}
}
func WithClock(c Clock) Option {
	return func(o Options) Options {
		o.Clock = c
		return o
	}
}
func WithStreamName(name string) Option {
	return func(o Options) Options {
		o.StreamName = name
		return o
	}
}
func WithProperty(key, value string) Option {
	return func(o Options) Options {
		props := make(map[string]string, len(o.Properties)+1)
		for k, v := range o.Properties {
			props[k] = v
		}
		props[key] = value
		o.Properties = props
		return o
	}
}

func NewOptions(opts ...Option) Options {
	o := Options{
		Logger:     zap.NewNop(),
		Clock:      SystemClock,
		StreamName: DefaultStreamName,
	}
	for _, opt := range opts {
		o = opt(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	return o
}

func (o Options) Property(key string) (string, bool) {
	v, ok := o.Properties[key]
	return v, ok
}

func (o Options) BoolProperty(key string) bool {
	v, ok := o.Properties[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// IntProperty returns the integer value of key, or def when it is unset.
func (o Options) IntProperty(key string, def int) (int, error) {
	v, ok := o.Properties[key]
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, Formatf("invalid %s property %q", key, v)
	}
	return i, nil
}

// Now returns the configured clock time, in nanoseconds.
func (o Options) Now() int64 {
	return o.Clock.Now().UnixNano()
}
