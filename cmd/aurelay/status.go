package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/decred/slog"
	"github.com/devindeed/aurelay/engine"
	"github.com/devindeed/aurelay/internal/jsonfile"
	"github.com/devindeed/aurelay/internal/strescape"
)

const sessionFilename = "session.json"

func sessionFile(root string) string {
	return filepath.Join(root, sessionFilename)
}

// writeSessionFile keeps the session file in root up to date with the state
// of the stream until ctx is done, at which point the file is removed.
func writeSessionFile(ctx context.Context, root string, interval time.Duration,
	eng *engine.Engine, log slog.Logger) {

	fname := sessionFile(root)
	write := func() {
		info, ok := eng.SessionInfo()
		if !ok {
			return
		}
		if err := jsonfile.Write(fname, info, log); err != nil {
			log.Warnf("Unable to write session file: %v", err)
		}
	}

	write()
	if interval <= 0 {
		<-ctx.Done()
	} else {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for done := false; !done; {
			select {
			case <-ticker.C:
				write()
			case <-ctx.Done():
				done = true
			}
		}
	}

	if err := jsonfile.RemoveIfExists(fname); err != nil {
		log.Warnf("Unable to remove session file: %v", err)
	}
}

// printSessionFile prints the session written by a running daemon.
func printSessionFile(root string) error {
	var info engine.SessionInfo
	err := jsonfile.Read(sessionFile(root), &info)
	if errors.Is(err, jsonfile.ErrNotFound) {
		fmt.Println("Not streaming")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Streaming %s (%s) to %s\n", strescape.Quoted(info.Device.Name),
		info.Config, strescape.Name(info.Target))
	fmt.Printf("Local address: %s\n", info.LocalAddr)
	fmt.Printf("Started: %s\n", info.Started.Format(time.RFC3339))
	fmt.Printf("Datagrams: %d (%d bytes, %d send errors)\n",
		info.Datagrams, info.BytesSent, info.SendErrors)
	return nil
}
