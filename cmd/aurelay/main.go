package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/decred/slog"
	"github.com/devindeed/aurelay/engine"
	"github.com/devindeed/aurelay/internal/audio"
	"github.com/devindeed/aurelay/internal/logutil"
	"github.com/devindeed/aurelay/internal/netutils"
	"github.com/devindeed/aurelay/internal/settings"
	"github.com/devindeed/aurelay/internal/strescape"
	"github.com/devindeed/aurelay/internal/version"
	"github.com/devindeed/aurelay/lockfile"
)

// lockTimeout is how long to wait for another instance to release the lock
// file before giving up.
const lockTimeout = 3 * time.Second

// listDevices prints the capture devices, marking the one the engine would
// pick.
func listDevices(cfg *settings.Settings, log slog.Logger) error {
	devs, err := audio.ListCaptureDevices(log)
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}

	matchers := audio.MatchersFromSubstrings(cfg.Matchers...)
	selected, selErr := audio.SelectDevice(devs, matchers)
	for _, dev := range devs {
		mark := " "
		if selErr == nil && dev.ID == selected.ID {
			mark = "*"
		}
		def := ""
		if dev.IsDefault {
			def = " (default)"
		}
		fmt.Printf("%s %s%s\n", mark, strescape.Quoted(dev.Name), def)
	}
	if selErr != nil {
		fmt.Printf("No device would be selected: %v\n", selErr)
	}
	return nil
}

func realMain() error {
	// Settings.
	cfg, flags, err := obtainSettings()
	if err != nil {
		return err
	}

	// Log.
	logBknd, err := logutil.NewBackend(logutil.BackendConfig{
		LogFile:     cfg.LogFile,
		DebugLevel:  cfg.DebugLevel,
		MaxLogFiles: cfg.MaxLogFiles,
		StdOut:      cfg.LogStdOut,
	})
	if err != nil {
		return err
	}
	defer logBknd.Close()
	log := logBknd.Logger("ACMD")

	if flags.listDevices {
		return listDevices(cfg, logBknd.Logger("AUDI"))
	}
	if flags.status {
		return printSessionFile(cfg.Root)
	}

	log.Infof("Running aurelay version %s", version.String())
	if cfg.Target == "" {
		return errors.New("target host not specified (use -target or " +
			"set target in the config file)")
	}

	// Only one instance may capture and stream at a time.
	lockCtx, lockCancel := context.WithTimeout(context.Background(), lockTimeout)
	lockPath := filepath.Join(cfg.Root, "aurelay.lock")
	lf, err := lockfile.Create(lockCtx, lockPath)
	lockCancel()
	if errors.Is(err, lockfile.ErrLocked) {
		owner, _ := lockfile.Owner(lockPath)
		return fmt.Errorf("aurelay already running (%s)", owner)
	}
	if err != nil {
		return fmt.Errorf("unable to create lock file: %w", err)
	}
	defer func() {
		if err := lf.Close(); err != nil {
			log.Warnf("Unable to close lock file: %v", err)
		}
	}()

	// Main context.
	errMainCtxCanceled := errors.New("main context canceled")
	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, mainCancel := context.WithCancelCause(context.Background())
	go func() {
		<-sigCtx.Done()
		log.Infof("Interrupt detected. Stopping stream.")
		mainCancel(errMainCtxCanceled)
	}()

	// Profiler.
	if cfg.Profiler != "" {
		listeners, err := netutils.Listen(cfg.Profiler)
		if err != nil {
			return fmt.Errorf("unable to listen on profiler address: %w", err)
		}
		defer netutils.CloseAll(listeners)
		for _, l := range listeners {
			log.Infof("Profiler enabled on http://%v/debug/pprof", l.Addr())
			go http.Serve(l, nil)
		}
	}

	// Engine.
	eng := engine.New(
		engine.WithLogger(logBknd.Logger("AENG")),
		engine.WithAudioLogger(logBknd.Logger("AUDI")),
		engine.WithTransportLogger(logBknd.Logger("ATRN")),
		engine.WithDeviceMatchers(audio.MatchersFromSubstrings(cfg.Matchers...)...),
		engine.WithMinSendBuffer(cfg.MinSendBuffer),
		engine.WithPrometheusListenAddr(cfg.MetricsListen),
		engine.WithReportStatsInterval(cfg.StatsInterval),
	)

	if err := eng.Start(ctx, cfg.Target); err != nil {
		return fmt.Errorf("unable to start stream (status %d): %w",
			engine.StatusFromError(err), err)
	}

	if flags.cfgFile != "" {
		apply := reloadApplier(cfg, flags, logBknd.SetLevels, log)
		go func() {
			err := runConfigWatcher(ctx, flags.cfgFile, apply, log)
			if err != nil {
				log.Warnf("Config file will not be reloaded: %v", err)
			}
		}()
	}

	sessionFileDone := make(chan struct{})
	go func() {
		writeSessionFile(ctx, cfg.Root, cfg.StatsInterval, eng, log)
		close(sessionFileDone)
	}()

	err = eng.Run(ctx)
	mainCancel(err)
	<-sessionFileDone
	if errors.Is(err, context.Canceled) && context.Cause(ctx) == errMainCtxCanceled {
		// Ignore graceful shutdown error.
		return nil
	}
	return err
}

func main() {
	err := realMain()
	if err != nil {
		fmt.Println("Error:", err.Error())
		os.Exit(1)
	}
}
