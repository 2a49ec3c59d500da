package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/devindeed/aurelay/internal/settings"
	"github.com/devindeed/aurelay/internal/version"
)

type cmdFlags struct {
	listDevices bool
	status      bool

	// cfgFile is the config file that was loaded, if any.
	cfgFile string

	// Settings given on the command line, which take precedence over the
	// config file.
	target     string
	debugLevel string
}

// applyOverrides replaces the settings of cfg that were given on the command
// line.
func (f *cmdFlags) applyOverrides(cfg *settings.Settings) {
	if f.target != "" {
		cfg.Target = f.target
	}
	if f.debugLevel != "" {
		cfg.DebugLevel = f.debugLevel
	}
}

func obtainSettings() (*settings.Settings, *cmdFlags, error) {
	defaultCfgFile := settings.DefaultConfigFile()
	filename := flag.String("cfg", defaultCfgFile, "config file")
	target := flag.String("target", "", "host that receives the audio stream (overrides the config file)")
	debugLevel := flag.String("debuglevel", "", "log level (overrides the config file)")
	listDevices := flag.Bool("listdevices", false, "list capture devices and exit")
	status := flag.Bool("status", false, "show the stream of the running instance and exit")
	versionFlag := flag.Bool("version", false, "show version")
	showEnvFlag := flag.Bool("showenv", false, "show environment and config information")
	flag.Parse()

	println := func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	if *versionFlag || *showEnvFlag {
		println("aurelay %s (%s)", version.String(), runtime.Version())
	}
	if *versionFlag {
		os.Exit(0)
	}

	// A missing config file is only an error when it was explicitly
	// requested.
	cfg := settings.New()
	cfgFile := *filename
	err := cfg.Load(*filename)
	switch {
	case errors.Is(err, os.ErrNotExist) && *filename == defaultCfgFile:
		cfgFile = ""
		if err := cfg.ExpandPaths(); err != nil {
			return nil, nil, err
		}
	case err != nil:
		return nil, nil, fmt.Errorf("unable to load config file %s: %w",
			*filename, err)
	}

	flags := &cmdFlags{
		listDevices: *listDevices,
		status:      *status,
		cfgFile:     cfgFile,
		target:      *target,
		debugLevel:  *debugLevel,
	}
	flags.applyOverrides(cfg)

	if *showEnvFlag {
		println("Config file path: %s", *filename)
		println("Root dir: %s", cfg.Root)
		println("Log file: %s", cfg.LogFile)
		println("Target: %s", cfg.Target)
		println("Device matchers: %q", cfg.Matchers)
		os.Exit(0)
	}

	return cfg, flags, nil
}
