//go:build !unix

package lock

import "os"

// Acquire is a no-op on platforms without flock(2).
func Acquire(f *os.File) error { return nil }

func Release(f *os.File) error { return nil }
