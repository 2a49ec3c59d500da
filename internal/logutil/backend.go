package logutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// BackendConfig configures a log backend.
type BackendConfig struct {
	// LogFile is the file that log lines are written to, besides StdOut.
	// Empty disables logging to a file.
	LogFile string

	// DebugLevel is either a single level ("info") applied to every
	// subsystem or a comma separated list of level and subsys=level
	// entries ("info,AENG=debug").
	DebugLevel string

	// MaxLogFiles is the number of rotated log files to keep.
	MaxLogFiles int

	// StdOut receives every log line. Nil disables it.
	StdOut io.Writer
}

// Backend writes log lines to stdout and to a rotated log file and creates
// loggers with per-subsystem levels.
type Backend struct {
	stdOut     io.Writer
	logRotator *rotator.Rotator
	bknd       *slog.Backend

	mtx             sync.Mutex
	defaultLogLevel slog.Level
	logLevels       map[string]slog.Level
	loggers         map[string]slog.Logger
}

// ParseDebugLevel parses a debug level string into the default level and the
// per-subsystem overrides.
func ParseDebugLevel(debugLevel string) (slog.Level, map[string]slog.Level, error) {
	defaultLevel := slog.LevelInfo
	levels := make(map[string]slog.Level)
	for _, v := range strings.Split(debugLevel, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		fields := strings.Split(v, "=")
		switch len(fields) {
		case 1:
			level, ok := slog.LevelFromString(fields[0])
			if !ok {
				return 0, nil, fmt.Errorf("unknown log level %q", fields[0])
			}
			defaultLevel = level
		case 2:
			subsys := strings.TrimSpace(fields[0])
			level, ok := slog.LevelFromString(strings.TrimSpace(fields[1]))
			if !ok || subsys == "" {
				return 0, nil, fmt.Errorf("unable to parse %q as "+
					"subsys=level debuglevel string", v)
			}
			levels[subsys] = level
		default:
			return 0, nil, fmt.Errorf("unable to parse %q as subsys=level "+
				"debuglevel string", v)
		}
	}
	return defaultLevel, levels, nil
}

// NewBackend creates a new log backend.
func NewBackend(cfg BackendConfig) (*Backend, error) {
	defaultLevel, levels, err := ParseDebugLevel(cfg.DebugLevel)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		stdOut:          cfg.StdOut,
		defaultLogLevel: defaultLevel,
		logLevels:       levels,
		loggers:         make(map[string]slog.Logger),
	}

	if cfg.LogFile != "" {
		logDir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxLogFiles := cfg.MaxLogFiles
		if maxLogFiles < 1 {
			maxLogFiles = 1
		}
		logRotator, err := rotator.New(cfg.LogFile, 1024, false, maxLogFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
		b.logRotator = logRotator
	}

	b.bknd = slog.NewBackend(b)
	return b, nil
}

func (b *Backend) Write(p []byte) (int, error) {
	if b.stdOut != nil {
		b.stdOut.Write(p)
	}
	if b.logRotator != nil {
		b.logRotator.Write(p)
	}
	return len(p), nil
}

// Logger returns the logger for the given subsystem. Loggers are cached, so
// repeated calls return the same logger.
func (b *Backend) Logger(subsys string) slog.Logger {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if l, ok := b.loggers[subsys]; ok {
		return l
	}

	l := b.bknd.Logger(subsys)
	if level, ok := b.logLevels[subsys]; ok {
		l.SetLevel(level)
	} else {
		l.SetLevel(b.defaultLogLevel)
	}
	b.loggers[subsys] = l
	return l
}

// SetLevels changes the levels of every logger created by the backend.
func (b *Backend) SetLevels(debugLevel string) error {
	defaultLevel, levels, err := ParseDebugLevel(debugLevel)
	if err != nil {
		return err
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.defaultLogLevel = defaultLevel
	b.logLevels = levels
	for subsys, l := range b.loggers {
		if level, ok := levels[subsys]; ok {
			l.SetLevel(level)
		} else {
			l.SetLevel(defaultLevel)
		}
	}
	return nil
}

// Close closes the log file.
func (b *Backend) Close() error {
	if b.logRotator != nil {
		return b.logRotator.Close()
	}
	return nil
}
