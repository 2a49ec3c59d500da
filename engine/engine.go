// Package engine streams live captured audio to a remote host over UDP.
//
// An Engine owns at most one capture session. Start selects a capture
// device, negotiates its format, connects a datagram socket to the target
// and starts capturing. Every buffer delivered by the audio subsystem is
// serialized as little-endian samples and sent as a single datagram, with no
// header. Stop tears the session down.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/decred/slog"
	"github.com/devindeed/aurelay/internal/audio"
	"github.com/devindeed/aurelay/internal/logutil"
	"github.com/devindeed/aurelay/internal/transport"
	"golang.org/x/sync/errgroup"
)

var errInvalidHost = errors.New("target host must be a UTF-8 string without NUL bytes")

// checkHost validates the target host string.
func checkHost(host string) error {
	if !utf8.ValidString(host) || strings.IndexByte(host, 0) > -1 {
		return makeCodedError(StatusInvalidHost, errInvalidHost)
	}
	return nil
}

// Engine controls the lifecycle of the capture stream. It is safe for
// concurrent use.
type Engine struct {
	cfg    config
	log    slog.Logger
	stats  *stats
	nextID atomic.Uint64

	// mtx serializes Start and Stop. active is nil while idle and is the
	// running session while streaming.
	mtx    sync.Mutex
	active *captureSession
}

// New creates a new, idle engine.
func New(opts ...Option) *Engine {
	cfg := fillConfig(opts...)
	return &Engine{
		cfg:   cfg,
		log:   cfg.log,
		stats: newStats(),
	}
}

// newSession runs every setup step needed to capture from a device and send
// to host. Every resource acquired is released if a later step fails.
func (e *Engine) newSession(ctx context.Context, host string) (*captureSession, error) {
	id := e.nextID.Add(1)
	log := logutil.PrefixLogger(e.log, fmt.Sprintf("[session %d]", id))

	sub, err := e.cfg.newSubsystem(e.cfg.audioLog)
	if err != nil {
		return nil, makeCodedError(StatusNoDevice,
			fmt.Errorf("unable to initialize audio subsystem: %w", err))
	}

	sess := &captureSession{
		id:     id,
		log:    log,
		stats:  e.stats,
		sub:    sub,
		target: host,
	}
	var ok bool
	defer func() {
		if !ok {
			sess.release()
		}
	}()

	devs, err := sub.CaptureDevices()
	if err != nil {
		return nil, makeCodedError(StatusNoDevice,
			fmt.Errorf("unable to list capture devices: %w", err))
	}
	dev, err := audio.SelectDevice(devs, e.cfg.matchers)
	if err != nil {
		return nil, makeCodedError(StatusNoDevice, err)
	}
	sess.dev = dev
	log.Infof("Using audio device %q", dev.Name)

	streamCfg, err := sub.DefaultInputConfig(dev)
	if err != nil {
		return nil, makeCodedError(StatusFormatNegotiation, err)
	}
	sess.cfg = streamCfg
	log.Debugf("Default input config: %s", streamCfg)

	socket, err := transport.Bind(ctx, host, e.cfg.targetPort,
		transport.WithLogger(e.cfg.transportLog),
		transport.WithResolver(e.cfg.resolver),
		transport.WithMinSendBuffer(e.cfg.minSendBuffer))
	if errors.Is(err, transport.ErrBind) {
		return nil, makeCodedError(StatusBindFailed, err)
	} else if err != nil {
		return nil, makeCodedError(StatusConnectFailed, err)
	}
	sess.socket = socket
	sess.target = socket.RemoteAddr().String()

	enc, err := audio.NewEncoder(streamCfg.Encoding)
	if err != nil {
		return nil, makeCodedError(StatusUnsupportedEncoding, err)
	}
	sess.enc = enc
	sess.sendBuf = make([]byte, 0, enc.EncodedLen(initialSendBufferFrames*streamCfg.FrameSize()))
	sess.sendSocket = socket.Ref()

	capture, err := sub.InitCapture(dev, streamCfg, audio.CaptureCallbacks{
		Data:    sess.onData,
		Stopped: sess.onStopped,
	})
	if err != nil {
		return nil, makeCodedError(StatusStreamBuildFailed, err)
	}
	sess.capture = capture

	if err := capture.Start(); err != nil {
		return nil, makeCodedError(StatusStreamPlayFailed, err)
	}
	sess.started = true
	sess.startTime = time.Now()
	sess.state.Store(int32(stateRunning))

	ok = true
	return sess, nil
}

// Start starts streaming captured audio to host. Starting while already
// streaming is a no-op and returns nil. A failed start leaves the engine idle
// and returns an error for which StatusFromError returns the code of the
// failed step.
func (e *Engine) Start(ctx context.Context, host string) error {
	if err := checkHost(host); err != nil {
		e.stats.startFailures.WithLabelValues(StatusInvalidHost.label()).Inc()
		return err
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.active != nil {
		e.log.Debugf("Start requested while already streaming to %s",
			e.active.target)
		return nil
	}

	sess, err := e.newSession(ctx, host)
	if err != nil {
		code := StatusFromError(err)
		e.stats.startFailures.WithLabelValues(code.label()).Inc()
		e.log.Warnf("Unable to start streaming to %q: %v", host, err)
		return err
	}

	e.active = sess
	e.stats.streaming.Set(1)
	e.log.Infof("Streaming %q (%s) to %s", sess.dev.Name, sess.cfg, sess.target)
	return nil
}

// StartStream starts streaming to host and returns the resulting status code.
func (e *Engine) StartStream(host string) StatusCode {
	return StatusFromError(e.Start(context.Background(), host))
}

// Stop stops the active stream, if there is one. It returns after the capture
// device has been released and no more buffers will be sent.
func (e *Engine) Stop() {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	sess := e.active
	if sess == nil {
		return
	}
	info := sess.info()
	sess.release()
	e.active = nil
	e.stats.streaming.Set(0)
	e.log.Infof("Stream stopped after %s (%s datagrams, %s)",
		time.Since(info.Started).Round(time.Millisecond),
		hcount(info.Datagrams), hbytes(info.BytesSent))
}

// Streaming returns true if there is an active stream.
func (e *Engine) Streaming() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.active != nil
}

// SessionInfo returns a snapshot of the active stream. It returns false if
// the engine is idle.
func (e *Engine) SessionInfo() (SessionInfo, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.active == nil {
		return SessionInfo{}, false
	}
	return e.active.info(), true
}

// Run runs the engine's auxiliary services (stats logging and the metrics
// endpoint) until ctx is done. The active stream, if any, is stopped before
// Run returns.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if e.cfg.promAddr != "" {
		g.Go(func() error { return e.runPrometheusListener(gctx, e.cfg.promAddr) })
	}
	g.Go(func() error { return e.runReportStatsLoop(gctx, e.cfg.statsReportInterval) })
	g.Go(func() error {
		<-gctx.Done()
		e.Stop()
		return gctx.Err()
	})

	return g.Wait()
}
