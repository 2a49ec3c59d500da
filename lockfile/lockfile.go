// Package lockfile guards against running more than one instance of a
// process that owns the same files.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rogpeppe/go-internal/lockedfile"
)

// ErrLocked is returned when the context is done before the lock could be
// acquired, which means another process holds it.
var ErrLocked = errors.New("lock file held by another process")

// LockFile holds the lockfile.
type LockFile struct {
	f    *lockedfile.File
	path string
}

// Path is the filename of the lock.
func (lf *LockFile) Path() string {
	return lf.path
}

// Close closes the lockfile.
func (lf *LockFile) Close() error {
	if lf.f == nil {
		return fmt.Errorf("nil internal locked file")
	}
	return lf.f.Close()
}

// Owner returns the contents written by the process that holds the lock at
// path. This is used to report which process holds the lock.
func Owner(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Create acquires the lock file at filePath, waiting until it is released by
// any other process or ctx is done. Parent dirs are created as needed.
func Create(ctx context.Context, filePath string) (*LockFile, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o0700); err != nil {
		return nil, err
	}
	cf := make(chan *lockedfile.File)
	cerr := make(chan error)
	go func() {
		f, err := lockedfile.Create(filePath)
		if err != nil {
			cerr <- err
		} else {
			cf <- f
		}
	}()

	select {
	case f := <-cf:
		// Write out the current pid and process to ease debugging.
		// Errors are ignored as they are not fatal.
		host, _ := os.Hostname()
		procName := ""
		if len(os.Args) > 0 {
			procName = os.Args[0]
		}
		fmt.Fprintf(f, "PID=%d\nHost=%q\nProcess=%q\n", os.Getpid(), host, procName)
		return &LockFile{f: f, path: filePath}, nil

	case err := <-cerr:
		return nil, err

	case <-ctx.Done():
		// The file may still (eventually) open, so make sure it is
		// closed if it ever does.
		go func() {
			select {
			case <-cerr:
			case f := <-cf:
				f.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %w", ErrLocked, ctx.Err())
	}
}
