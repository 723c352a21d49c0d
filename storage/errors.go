package storage

import (
	"github.com/pkg/errors"
	"github.com/vx-labs/recstore/record"
)

var (
	ErrIO            = errors.New("storage I/O failure")
	ErrNotFound      = errors.New("storage resource not found")
	ErrFormat        = errors.New("malformed storage content")
	ErrAlreadyClosed = errors.New("storage already closed")
	ErrUnknownKind   = errors.New("unknown storage kind")
)

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.msg + ": " + e.kind.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool { return target == e.kind }
func (e *kindError) Unwrap() error       { return e.cause }
func (e *kindError) Cause() error        { return e.cause }

func newKindError(kind, cause error, msg string) error {
	return &kindError{kind: kind, msg: msg, cause: cause}
}

// IOError reports an I/O failure of the storage resources.
func IOError(cause error, msg string) error { return newKindError(ErrIO, cause, msg) }

// NotFoundError reports a missing storage resource.
func NotFoundError(cause error, msg string) error { return newKindError(ErrNotFound, cause, msg) }

// FormatError reports a storage resource violating its encoding.
func FormatError(cause error, msg string) error { return newKindError(ErrFormat, cause, msg) }

func Formatf(format string, args ...interface{}) error {
	return newKindError(ErrFormat, nil, errors.Errorf(format, args...).Error())
}

// Classify turns err into one of the storage error kinds. Errors already carrying
// a kind keep it, malformed records become ErrFormat and anything else is ErrIO.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrIO, ErrNotFound, ErrFormat, ErrAlreadyClosed} {
		if errors.Is(err, kind) {
			return errors.Wrap(err, msg)
		}
	}
	if errors.Is(err, record.ErrMalformed) {
		return FormatError(err, msg)
	}
	return IOError(err, msg)
}
