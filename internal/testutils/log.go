package testutils

import (
	"io"
	"sync"
	"testing"

	"github.com/decred/slog"
)

// TestLogBackend is a slog backend suitable for using with tests.
type TestLogBackend struct {
	mtx     sync.Mutex
	tb      testing.TB
	w       io.Writer
	done    bool
	showLog bool
}

func (tlb *TestLogBackend) Write(b []byte) (int, error) {
	tlb.mtx.Lock()
	if !tlb.done && tlb.showLog {
		tlb.tb.Log(string(b[:len(b)-1]))
	}
	tlb.mtx.Unlock()

	if tlb.w != nil {
		tlb.w.Write(b)
	}
	return len(b), nil
}

type TestLogBackendOption func(t *TestLogBackend)

func WithShowLog(showLog bool) TestLogBackendOption {
	return func(t *TestLogBackend) {
		t.showLog = showLog
	}
}

// WithMiddlewareWriter also writes every log line to w. Tests use this to
// assert on logged messages.
func WithMiddlewareWriter(w io.Writer) TestLogBackendOption {
	return func(t *TestLogBackend) {
		t.w = w
	}
}

// NewTestLogBackend returns a log backend that can be used as an io.Writer to
// write logs to during a test.
func NewTestLogBackend(t testing.TB, opts ...TestLogBackendOption) *TestLogBackend {
	tlb := &TestLogBackend{tb: t, showLog: true}
	for _, opt := range opts {
		opt(tlb)
	}
	t.Cleanup(func() {
		tlb.mtx.Lock()
		tlb.done = true
		tlb.mtx.Unlock()
	})
	return tlb
}

// TestLoggerSys returns an slog.Logger that logs by issuing t.Log calls.
func TestLoggerSys(t testing.TB, sys string, opts ...TestLogBackendOption) slog.Logger {
	bknd := slog.NewBackend(NewTestLogBackend(t, opts...))
	logg := bknd.Logger(sys)
	logg.SetLevel(slog.LevelTrace)
	return logg
}

// SyncBuffer is a concurrency safe buffer of log output.
type SyncBuffer struct {
	mtx sync.Mutex
	b   []byte
}

func (sb *SyncBuffer) Write(b []byte) (int, error) {
	sb.mtx.Lock()
	sb.b = append(sb.b, b...)
	sb.mtx.Unlock()
	return len(b), nil
}

// String returns everything written so far.
func (sb *SyncBuffer) String() string {
	sb.mtx.Lock()
	defer sb.mtx.Unlock()
	return string(sb.b)
}
