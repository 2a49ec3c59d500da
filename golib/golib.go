// Package golib holds the process-wide engine used by the c-shared library.
// Host applications that link the library only see three calls: initialize
// the log, start the stream and stop it.
package golib

import (
	"context"
	"errors"
	"sync"

	"github.com/decred/slog"
	"github.com/devindeed/aurelay/engine"
	"github.com/devindeed/aurelay/internal/logutil"
)

const maxLogFiles = 3

var errLogAfterStart = errors.New("log must be initialized before the first stream is started")

var (
	mtx     sync.Mutex
	logBknd *logutil.Backend
	eng     *engine.Engine
	cancel  func()

	// engineOpts are appended to the options of the process engine.
	engineOpts []engine.Option
)

// InitLog configures the log of the process engine. Calling it again changes
// the log levels. It must be called before the first StartStream for the
// engine to log at all.
func InitLog(logFile, debugLevel string) error {
	mtx.Lock()
	defer mtx.Unlock()

	if logBknd != nil {
		return logBknd.SetLevels(debugLevel)
	}
	if eng != nil {
		return errLogAfterStart
	}

	b, err := logutil.NewBackend(logutil.BackendConfig{
		LogFile:     logFile,
		DebugLevel:  debugLevel,
		MaxLogFiles: maxLogFiles,
	})
	if err != nil {
		return err
	}
	logBknd = b
	return nil
}

func logger(subsys string) slog.Logger {
	if logBknd == nil {
		return slog.Disabled
	}
	return logBknd.Logger(subsys)
}

// processEngine returns the engine, creating it on first use. The engine's
// auxiliary services run for the remaining life of the process.
func processEngine() *engine.Engine {
	mtx.Lock()
	defer mtx.Unlock()
	if eng != nil {
		return eng
	}

	opts := append([]engine.Option{
		engine.WithLogger(logger("AENG")),
		engine.WithAudioLogger(logger("AUDI")),
		engine.WithTransportLogger(logger("ATRN")),
	}, engineOpts...)
	eng = engine.New(opts...)

	ctx, ctxCancel := context.WithCancel(context.Background())
	cancel = ctxCancel
	go eng.Run(ctx)
	return eng
}

// StartStream starts streaming to host and returns the status code of the
// attempt.
func StartStream(host string) int {
	return int(processEngine().StartStream(host))
}

// StopStream stops the active stream, if any.
func StopStream() {
	mtx.Lock()
	e := eng
	mtx.Unlock()
	if e != nil {
		e.Stop()
	}
}

// InvalidHost is the status code for hosts that could not be read from the
// caller (for example, a NULL pointer).
func InvalidHost() int {
	return int(engine.StatusInvalidHost)
}
