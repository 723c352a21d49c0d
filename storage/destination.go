package storage

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid"
	"github.com/vx-labs/recstore/record"
)

// AutoDirProperty makes backends supporting it store the session in a new
// directory named after a ULID, below the provided destination.
const AutoDirProperty = "auto_dir"

var (
	entropyMtx sync.Mutex
	entropy    = ulid.Monotonic(rand.New(rand.NewSource(rand.Int63())), 0)
)

// ResolveDestination returns the destination a writer must use for dest,
// creating the parent directory of auto directories.
func ResolveDestination(dest string, o Options) (string, error) {
	if !o.BoolProperty(AutoDirProperty) {
		return dest, nil
	}
	entropyMtx.Lock()
	id, err := ulid.New(ulid.Timestamp(o.Clock.Now()), entropy)
	entropyMtx.Unlock()
	if err != nil {
		return "", IOError(err, "failed to generate session directory name")
	}
	if err := os.MkdirAll(dest, 0750); err != nil {
		return "", IOError(err, "failed to create session parent directory")
	}
	return filepath.Join(dest, id.String()), nil
}

// ReadInfoFile parses the session metadata stored in path.
func ReadInfoFile(path string) (record.SessionInfo, error) {
	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return record.SessionInfo{}, NotFoundError(err, "metadata file")
		}
		return record.SessionInfo{}, IOError(err, "failed to open metadata file")
	}
	defer fd.Close()
	session, err := record.ReadSessionInfo(fd)
	if err != nil {
		return session, Classify(err, "failed to parse metadata file")
	}
	return session, nil
}

// CheckExists reports a missing destination with ErrNotFound.
func CheckExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return NotFoundError(err, path)
		}
		return IOError(err, "failed to stat "+path)
	}
	return nil
}
