// Package settings holds the configuration of the aurelay daemon.
package settings

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/vaughan0/go-ini"
	strduration "github.com/xhit/go-str2duration/v2"
)

const (
	// DefaultRoot is the default root dir of the daemon's files.
	DefaultRoot = "~/.aurelay"

	// ConfigFilename is the name of the config file inside the root dir.
	ConfigFilename = "aurelay.conf"
)

// DefaultConfigFile returns the default path of the config file, with ~
// expanded.
func DefaultConfigFile() string {
	root, err := homedir.Expand(DefaultRoot)
	if err != nil {
		root = DefaultRoot
	}
	return filepath.Join(root, ConfigFilename)
}

// Settings is the collection of all aurelay settings.
type Settings struct {
	// default section
	Root          string   // root directory for aurelay files
	Target        string   // host that receives the stream
	Matchers      []string // preferred capture device name substrings
	MinSendBuffer int      // warn when the kernel send buffer is smaller

	// log section
	LogFile       string        // log filename
	DebugLevel    string        // debug level config string
	MaxLogFiles   int           // rotated log files to keep
	StatsInterval time.Duration // interval between stats reports
	Profiler      string        // go profiler link

	// metrics section
	MetricsListen string // Prometheus endpoint listen address

	// LogStdOut is the stdout to write the log to. Defaults to os.Stdout.
	LogStdOut io.Writer
}

var (
	errIniNotFound = errors.New("not found")
)

// New returns a default settings structure.
func New() *Settings {
	return &Settings{
		// default
		Root:          DefaultRoot,
		Matchers:      []string{"monitor", "analog stereo"},
		MinSendBuffer: 64 * 1024,

		// log
		LogFile:       DefaultRoot + "/logs/aurelay.log",
		DebugLevel:    "info",
		MaxLogFiles:   10,
		StatsInterval: 10 * time.Second,

		LogStdOut: os.Stdout,
	}
}

// Load retrieves settings from an ini file. Additionally it expands all ~ to
// the current user home directory.
func (s *Settings) Load(filename string) error {
	// parse file
	cfg, err := ini.LoadFile(filename)
	if err != nil {
		return err
	}

	get := func(s *string, section, field string) {
		v, ok := cfg.Get(section, field)
		if ok {
			*s = strings.TrimSpace(v)
		}
	}

	get(&s.Root, "", "root")
	get(&s.Target, "", "target")

	if rawMatchers, ok := cfg.Get("", "matchers"); ok {
		var matchers []string
		for _, m := range strings.Split(rawMatchers, ",") {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			matchers = append(matchers, m)
		}
		s.Matchers = matchers
	}

	err = iniInt(cfg, &s.MinSendBuffer, "", "minsendbuffer")
	if err != nil && !errors.Is(err, errIniNotFound) {
		return err
	}
	if s.MinSendBuffer < 0 {
		return fmt.Errorf("minsendbuffer must not be negative")
	}

	// logging and debug
	get(&s.LogFile, "log", "logfile")
	get(&s.DebugLevel, "log", "debuglevel")
	get(&s.Profiler, "log", "profiler")

	err = iniInt(cfg, &s.MaxLogFiles, "log", "maxlogfiles")
	if err != nil && !errors.Is(err, errIniNotFound) {
		return err
	}
	if s.MaxLogFiles < 1 {
		return fmt.Errorf("maxlogfiles must be at least one")
	}

	err = iniDuration(cfg, &s.StatsInterval, "log", "statsinterval")
	if err != nil && !errors.Is(err, errIniNotFound) {
		return err
	}
	if s.StatsInterval < 0 {
		return fmt.Errorf("statsinterval must not be negative")
	}

	get(&s.MetricsListen, "metrics", "listen")

	return s.ExpandPaths()
}

// ExpandPaths expands ~ in every path setting to the current user home
// directory. Load calls this automatically.
func (s *Settings) ExpandPaths() error {
	var err error
	if s.Root, err = homedir.Expand(s.Root); err != nil {
		return err
	}
	if s.LogFile, err = homedir.Expand(s.LogFile); err != nil {
		return err
	}
	return nil
}

func iniInt(cfg ini.File, p *int, section, key string) error {
	v, ok := cfg.Get(section, key)
	if !ok {
		return errIniNotFound
	}

	i64, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err == nil {
		*p = int(i64)
	}
	return err
}

func iniDuration(cfg ini.File, p *time.Duration, section, key string) error {
	v, ok := cfg.Get(section, key)
	if !ok {
		return errIniNotFound
	}

	dur, err := strduration.ParseDuration(strings.TrimSpace(v))
	if err == nil {
		*p = dur
	}
	return err
}
