package testutils

import (
	"os"
	"testing"
)

// TempTestDir returns a new dir for test files (config, logs, lock and
// session files). The dir is removed when the test passes and kept, with its
// location logged, when the test fails so its files can be inspected.
func TempTestDir(t testing.TB, prefix string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("Test files kept in %s", dir)
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			t.Logf("Unable to remove test dir %s: %v", dir, err)
		}
	})
	return dir
}
