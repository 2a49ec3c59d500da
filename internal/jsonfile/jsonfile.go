// Package jsonfile reads and atomically replaces small JSON state files.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/slog"
)

var ErrNotFound = errors.New("json file not found")

// writeTemp encodes data into a synced temp file next to fname and returns
// the temp file name.
func writeTemp(fname string, data interface{}) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(fname), "."+filepath.Base(fname)+".*.new")
	if err != nil {
		return "", fmt.Errorf("unable to create temp file: %w", err)
	}
	tempFname := f.Name()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		f.Close()
		return tempFname, fmt.Errorf("unable to encode json contents: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return tempFname, fmt.Errorf("unable to fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return tempFname, fmt.Errorf("unable to close temp file: %w", err)
	}
	return tempFname, nil
}

// Write replaces fname with the json encoding of data. Readers never observe
// a partially written file.
//
// log is used to log warnings that are not fatal to the Write() operation.
func Write(fname string, data interface{}, log slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(fname), 0o700); err != nil {
		return fmt.Errorf("unable to create dest dir: %w", err)
	}

	tempFname, err := writeTemp(fname, data)
	if err == nil {
		err = os.Rename(tempFname, fname)
		if err != nil {
			err = fmt.Errorf("unable to rename temp file to final file: %w", err)
		}
	}
	if err != nil && tempFname != "" {
		if remErr := os.Remove(tempFname); log != nil && remErr != nil {
			log.Warnf("Unable to remove temp file %s: %v", tempFname, remErr)
		}
	}
	return err
}

// Read decodes the json contents of fname into data.
func Read(fname string, data interface{}) error {
	b, err := os.ReadFile(fname)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return json.Unmarshal(b, data)
}

// RemoveIfExists removes the filename if it exists. If it does not exist, this
// doesn't return an error.
func RemoveIfExists(fname string) error {
	err := os.Remove(fname)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
