// Package lock guards storage destinations against concurrent writers.
package lock

import "github.com/pkg/errors"

var ErrLocked = errors.New("resource already locked by another writer")
