package engine

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devindeed/aurelay/internal/assert"
	"github.com/devindeed/aurelay/internal/audio"
	"github.com/devindeed/aurelay/internal/audio/audiotest"
	"github.com/devindeed/aurelay/internal/testutils"
)

var (
	monitorDev = audio.Device{ID: "mon", Name: "Monitor of Built-in Audio Analog Stereo"}
	micDev     = audio.Device{ID: "mic", Name: "USB Microphone"}
	defMicDev  = audio.Device{ID: "defmic", Name: "Headset Microphone", IsDefault: true}

	f32Mono = audio.StreamConfig{SampleRate: 48000, Channels: 1, Encoding: audio.EncodingFloat32}
)

// newTestEngine creates an engine that captures from the fake subsystem.
func newTestEngine(t testing.TB, sub *audiotest.Subsystem, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLogger(testutils.TestLoggerSys(t, "AENG")),
		WithTransportLogger(testutils.TestLoggerSys(t, "ATRN")),
		WithSubsystemFactory(sub.Factory()),
		WithReportStatsInterval(0),
		WithMinSendBuffer(0),
	}, opts...)
	e := New(opts...)
	t.Cleanup(e.Stop)
	return e
}

// listenLoopback returns a UDP listener on an ephemeral loopback port.
func listenLoopback(t testing.TB) (*net.UDPConn, uint16) {
	t.Helper()
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l, uint16(l.LocalAddr().(*net.UDPAddr).Port)
}

// readDatagram reads the next datagram received by l.
func readDatagram(t testing.TB, l *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 65536)
	l.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, _, err := l.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("unable to read datagram: %v", err)
	}
	return buf[:n]
}

// assertIdle asserts the engine is idle and no resources of the fake subsystem
// are held.
func assertIdle(t testing.TB, e *Engine, sub *audiotest.Subsystem) {
	t.Helper()
	assert.BoolIs(t, e.Streaming(), false)
	if _, ok := e.SessionInfo(); ok {
		t.Fatalf("engine returned session info while idle")
	}
	assert.DeepEqual(t, sub.Open(), 0)
	assert.DeepEqual(t, sub.Live(), 0)
}

// TestStreamFloat32Datagram tests that a captured f32 buffer is received by
// the target as one datagram of little-endian samples.
func TestStreamFloat32Datagram(t *testing.T) {
	t.Parallel()

	l, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))

	assert.NilErr(t, e.Start(context.Background(), "127.0.0.1"))
	assert.ChanWritten(t, sub.Started)

	assert.NilErr(t, sub.Deliver(audiotest.NativeFloat32s(1.0, -1.0, 0.5), 3))
	got := readDatagram(t, l)
	want := []byte{
		0x00, 0x00, 0x80, 0x3f,
		0x00, 0x00, 0x80, 0xbf,
		0x00, 0x00, 0x00, 0x3f,
	}
	assert.DeepEqual(t, got, want)

	// Each buffer is a separate datagram.
	assert.NilErr(t, sub.Deliver(audiotest.NativeFloat32s(0.5), 1))
	assert.DeepEqual(t, readDatagram(t, l), want[8:])
}

// TestStreamInt16Datagram tests streaming from an s16 stereo device.
func TestStreamInt16Datagram(t *testing.T) {
	t.Parallel()

	l, port := listenLoopback(t)
	cfg := audio.StreamConfig{SampleRate: 44100, Channels: 2, Encoding: audio.EncodingInt16}
	sub := audiotest.New(cfg, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))

	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)

	// The trailing sample of an incomplete frame is not sent.
	assert.NilErr(t, sub.Deliver(audiotest.NativeInt16s(1, -1, 256, 0x7fff, 9), 2))
	want := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x01, 0xff, 0x7f}
	assert.DeepEqual(t, readDatagram(t, l), want)
}

// TestStartIdempotent tests that starting twice creates a single session.
func TestStartIdempotent(t *testing.T) {
	t.Parallel()

	_, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))

	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	info1, ok := e.SessionInfo()
	assert.BoolIs(t, ok, true)

	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	info2, ok := e.SessionInfo()
	assert.BoolIs(t, ok, true)

	assert.DeepEqual(t, info2.ID, info1.ID)
	assert.DeepEqual(t, sub.Inits(), 1)
	assert.DeepEqual(t, sub.Live(), 1)
	assert.DeepEqual(t, sub.Open(), 1)
}

// TestStopIdle tests that stopping an idle engine is a no-op.
func TestStopIdle(t *testing.T) {
	t.Parallel()

	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub)

	assert.DoesNotBlock(t, e.Stop)
	assert.DoesNotBlock(t, e.Stop)
	assertIdle(t, e, sub)
	assert.DeepEqual(t, sub.Inits(), 0)
}

// TestStopReleasesDevice tests that once Stop returns, the capture device is
// released and no further buffers are delivered.
func TestStopReleasesDevice(t *testing.T) {
	t.Parallel()

	l, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))

	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	assert.NilErr(t, sub.Deliver(audiotest.NativeFloat32s(1), 1))
	readDatagram(t, l)

	e.Stop()
	assert.ChanWritten(t, sub.Stopped)
	assert.ChanWritten(t, sub.Uninited)
	assertIdle(t, e, sub)
	assert.ErrorIs(t, sub.Deliver(audiotest.NativeFloat32s(1), 1), audiotest.ErrNotStarted)

	// A new start creates a fresh session.
	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	assert.DeepEqual(t, sub.Inits(), 2)
	assert.NilErr(t, sub.Deliver(audiotest.NativeFloat32s(1), 1))
	readDatagram(t, l)
}

// TestStopClosesSocket tests that the references of the session and of the
// data callback are both dropped on stop, closing the socket.
func TestStopClosesSocket(t *testing.T) {
	t.Parallel()

	_, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))
	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)

	e.mtx.Lock()
	sock, cbSock := e.active.socket, e.active.sendSocket
	e.mtx.Unlock()
	if sock == nil || cbSock != sock {
		t.Fatalf("data callback does not share the session socket")
	}

	e.Stop()
	_, err := sock.TrySend([]byte{0x01})
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.NonNilErr(t, sock.Close())
}

// TestWildcardChannelsNotTruncated tests that buffers are sent whole when the
// device reports a wildcard (zero) channel count and sample rate.
func TestWildcardChannelsNotTruncated(t *testing.T) {
	t.Parallel()

	l, port := listenLoopback(t)
	wildcard := audio.StreamConfig{Encoding: audio.EncodingFloat32}
	sub := audiotest.New(wildcard, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))
	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)

	// Two stereo frames.
	raw := audiotest.NativeFloat32s(0.5, -0.5, 0.25, -0.25)
	assert.NilErr(t, sub.Deliver(raw, 2))
	got := readDatagram(t, l)
	assert.DeepEqual(t, got, audio.AppendFloat32LE(nil, []float32{0.5, -0.5, 0.25, -0.25}))
}

// failingResolver returns a resolver that fails every DNS query.
func failingResolver() *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("dns disabled in test")
		},
	}
}

// TestStartFailures tests the status code returned by each failed setup step
// and that no resources are left behind after a failure.
func TestStartFailures(t *testing.T) {
	t.Parallel()

	errTest := errors.New("test error")

	tests := []struct {
		name      string
		host      string
		emptyHost bool
		devs      []audio.Device
		cfg       audio.StreamConfig
		setup     func(sub *audiotest.Subsystem)
		want      StatusCode
	}{{
		name:      "empty host",
		emptyHost: true,
		devs:      []audio.Device{monitorDev},
		want:      StatusConnectFailed,
	}, {
		name:      "empty host and no devices",
		emptyHost: true,
		want:      StatusNoDevice,
	}, {
		name:      "empty host and no default config",
		emptyHost: true,
		devs:      []audio.Device{monitorDev},
		setup:     func(sub *audiotest.Subsystem) { sub.ConfigErr = audio.ErrNoFormat },
		want:      StatusFormatNegotiation,
	}, {
		name: "invalid utf-8 host",
		host: "127.0.0.\xff",
		devs: []audio.Device{monitorDev},
		want: StatusInvalidHost,
	}, {
		name: "host with nul",
		host: "127.0.0.1\x00evil",
		devs: []audio.Device{monitorDev},
		want: StatusInvalidHost,
	}, {
		name: "no devices",
		want: StatusNoDevice,
	}, {
		name: "no matching and no default device",
		devs: []audio.Device{micDev},
		want: StatusNoDevice,
	}, {
		name:  "subsystem init fails",
		devs:  []audio.Device{monitorDev},
		setup: func(sub *audiotest.Subsystem) { sub.NewErr = errTest },
		want:  StatusNoDevice,
	}, {
		name:  "device enumeration fails",
		devs:  []audio.Device{monitorDev},
		setup: func(sub *audiotest.Subsystem) { sub.ListErr = errTest },
		want:  StatusNoDevice,
	}, {
		name:  "no default config",
		devs:  []audio.Device{monitorDev},
		setup: func(sub *audiotest.Subsystem) { sub.ConfigErr = audio.ErrNoFormat },
		want:  StatusFormatNegotiation,
	}, {
		name: "target does not resolve",
		host: "receiver.invalid",
		devs: []audio.Device{monitorDev},
		want: StatusConnectFailed,
	}, {
		name: "unsupported encoding",
		devs: []audio.Device{monitorDev},
		cfg:  audio.StreamConfig{SampleRate: 48000, Channels: 2, Encoding: audio.EncodingOther},
		want: StatusUnsupportedEncoding,
	}, {
		name:  "stream build fails",
		devs:  []audio.Device{monitorDev},
		setup: func(sub *audiotest.Subsystem) { sub.InitErr = errTest },
		want:  StatusStreamBuildFailed,
	}, {
		name:  "stream play fails",
		devs:  []audio.Device{defMicDev},
		setup: func(sub *audiotest.Subsystem) { sub.StartErr = errTest },
		want:  StatusStreamPlayFailed,
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, port := listenLoopback(t)
			cfg := tc.cfg
			if cfg == (audio.StreamConfig{}) {
				cfg = f32Mono
			}
			sub := audiotest.New(cfg, tc.devs...)
			if tc.setup != nil {
				tc.setup(sub)
			}
			host := tc.host
			if host == "" && !tc.emptyHost {
				host = "127.0.0.1"
			}

			e := newTestEngine(t, sub, WithTargetPort(port),
				WithResolver(failingResolver()))
			err := e.Start(context.Background(), host)
			assert.DeepEqual(t, StatusFromError(err), tc.want)
			assert.ErrorIs(t, err, tc.want)
			assertIdle(t, e, sub)

			// The same result is returned through StartStream.
			assert.DeepEqual(t, e.StartStream(host), tc.want)
			assertIdle(t, e, sub)

			// A stream that fails to start is always released.
			if tc.want == StatusStreamPlayFailed {
				assert.ChanWritten(t, sub.Uninited)
			}
		})
	}
}

// TestDeviceSelection tests the device chosen for capture.
func TestDeviceSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		devs     []audio.Device
		matchers []audio.DeviceMatcher
		want     audio.Device
	}{{
		name: "monitor preferred over default",
		devs: []audio.Device{defMicDev, micDev, monitorDev},
		want: monitorDev,
	}, {
		name: "default device fallback",
		devs: []audio.Device{micDev, defMicDev},
		want: defMicDev,
	}, {
		name:     "custom matchers",
		devs:     []audio.Device{monitorDev, defMicDev, micDev},
		matchers: audio.MatchersFromSubstrings("usb"),
		want:     micDev,
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, port := listenLoopback(t)
			sub := audiotest.New(f32Mono, tc.devs...)
			opts := []Option{WithTargetPort(port)}
			if tc.matchers != nil {
				opts = append(opts, WithDeviceMatchers(tc.matchers...))
			}
			e := newTestEngine(t, sub, opts...)
			assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)

			gotDev, gotCfg := sub.LastCapture()
			assert.DeepEqual(t, gotDev, tc.want)
			assert.DeepEqual(t, gotCfg, f32Mono)

			info, _ := e.SessionInfo()
			assert.DeepEqual(t, info.Device, tc.want)
		})
	}
}

// TestSessionInfo tests the snapshot of a running session.
func TestSessionInfo(t *testing.T) {
	t.Parallel()

	l, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))

	before := time.Now()
	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	for i := 0; i < 3; i++ {
		assert.NilErr(t, sub.Deliver(audiotest.NativeFloat32s(0.1, 0.2), 2))
		readDatagram(t, l)
	}

	info, ok := e.SessionInfo()
	assert.BoolIs(t, ok, true)
	assert.DeepEqual(t, info.State, stateRunning.String())
	assert.DeepEqual(t, info.Device, monitorDev)
	assert.DeepEqual(t, info.Config, f32Mono)
	assert.DeepEqual(t, info.Target, l.LocalAddr().String())
	assert.DeepEqual(t, info.Datagrams, uint64(3))
	assert.DeepEqual(t, info.BytesSent, uint64(24))
	assert.DeepEqual(t, info.SendErrors, uint64(0))
	if info.Started.Before(before) {
		t.Fatalf("unexpected start time %s", info.Started)
	}
	if info.LocalAddr == "" {
		t.Fatalf("empty local address")
	}
}

// TestSendErrorsDoNotStopStream tests that failing to send datagrams does not
// stop the stream.
func TestSendErrorsDoNotStopStream(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test relies on linux reporting ICMP port unreachable on send")
	}
	t.Parallel()

	// Close the receiver so that sends to it start failing.
	l, port := listenLoopback(t)
	l.Close()

	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))
	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)

	assert.Eventually(t, func() bool {
		if err := sub.Deliver(audiotest.NativeFloat32s(1, 2, 3), 3); err != nil {
			t.Fatal(err)
		}
		info, _ := e.SessionInfo()
		return info.SendErrors > 0
	})

	assert.BoolIs(t, e.Streaming(), true)
	assert.NilErr(t, sub.Deliver(audiotest.NativeFloat32s(1), 1))
	assert.ChanNotWritten(t, sub.Stopped, 50*time.Millisecond)
}

// TestDeviceStopIsLoggedOnly tests that the audio subsystem stopping the
// device while streaming is logged and does not end the session.
func TestDeviceStopIsLoggedOnly(t *testing.T) {
	t.Parallel()

	_, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	var logBuf testutils.SyncBuffer
	log := testutils.TestLoggerSys(t, "AENG", testutils.WithMiddlewareWriter(&logBuf))
	e := newTestEngine(t, sub, WithTargetPort(port), WithLogger(log))

	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	assert.NilErr(t, sub.FailDevice())

	assert.BoolIs(t, e.Streaming(), true)
	if !strings.Contains(logBuf.String(), "stopped unexpectedly") {
		t.Fatalf("device stop not logged: %q", logBuf.String())
	}

	// Stopping afterwards still releases everything, without logging the
	// expected stop as a failure.
	before := strings.Count(logBuf.String(), "stopped unexpectedly")
	e.Stop()
	assertIdle(t, e, sub)
	assert.DeepEqual(t, strings.Count(logBuf.String(), "stopped unexpectedly"), before)
}

// TestConcurrentStartStop tests that concurrent calls to Start and Stop never
// create more than one session and never expose a streaming flag that is
// inconsistent with the held session.
func TestConcurrentStartStop(t *testing.T) {
	t.Parallel()

	_, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))

	const nbWorkers = 8
	const nbIterations = 50

	done := make(chan struct{})
	checkErr := make(chan error, 1)
	go func() {
		defer close(checkErr)
		for {
			select {
			case <-done:
				return
			default:
			}

			e.mtx.Lock()
			streaming := e.active != nil
			live := sub.Live()
			e.mtx.Unlock()
			if streaming != (live == 1) {
				checkErr <- errors.New("streaming flag inconsistent with live devices")
				return
			}
			runtime.Gosched()
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < nbWorkers; i++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(seed)))
			for j := 0; j < nbIterations; j++ {
				if rng.Intn(2) == 0 {
					if code := e.StartStream("127.0.0.1"); code != StatusOK {
						t.Errorf("unexpected status %d", code)
						return
					}
					sub.Deliver(audiotest.NativeFloat32s(1), 1)
				} else {
					e.Stop()
				}
			}
		}(uint64(i))
	}
	wg.Wait()
	close(done)
	for err := range checkErr {
		t.Fatal(err)
	}

	if sub.MaxLive() > 1 {
		t.Fatalf("more than one live capture device: %d", sub.MaxLive())
	}
	e.Stop()
	assertIdle(t, e, sub)
}

// TestRunStopsStream tests that Run stops the active stream when its context
// is canceled.
func TestRunStopsStream(t *testing.T) {
	t.Parallel()

	_, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	cancel()
	assert.ErrorIs(t, assert.ChanWritten(t, runErr), context.Canceled)
	assertIdle(t, e, sub)
}

// TestReportStats tests that the stats loop logs sent datagrams.
func TestReportStats(t *testing.T) {
	t.Parallel()

	l, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	var logBuf testutils.SyncBuffer
	log := testutils.TestLoggerSys(t, "AENG", testutils.WithMiddlewareWriter(&logBuf))
	e := newTestEngine(t, sub, WithTargetPort(port), WithLogger(log),
		WithReportStatsInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	assert.Eventually(t, func() bool {
		assert.NilErr(t, sub.Deliver(audiotest.NativeFloat32s(1, 2), 2))
		readDatagram(t, l)
		return strings.Contains(logBuf.String(), "Stats for the last")
	})

	cancel()
	assert.ErrorIs(t, assert.ChanWritten(t, runErr), context.Canceled)
}

// TestMetricsHandler tests the metrics exported by the engine.
func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	l, port := listenLoopback(t)
	sub := audiotest.New(f32Mono, monitorDev)
	e := newTestEngine(t, sub, WithTargetPort(port))

	assert.DeepEqual(t, e.StartStream("127.0.0.\xff"), StatusInvalidHost)
	assert.DeepEqual(t, e.StartStream("127.0.0.1"), StatusOK)
	assert.NilErr(t, sub.Deliver(audiotest.NativeFloat32s(1, 2, 3), 3))
	readDatagram(t, l)

	rec := httptest.NewRecorder()
	e.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.DeepEqual(t, rec.Code, http.StatusOK)

	body := rec.Body.String()
	for _, want := range []string{
		"aurelay_datagrams_sent 1",
		"aurelay_bytes_sent 12",
		"aurelay_streaming 1",
		`aurelay_start_failures{status="-1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics do not contain %q:\n%s", want, body)
		}
	}
}
