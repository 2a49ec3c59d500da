package engine

import (
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/devindeed/aurelay/internal/audio"
	"github.com/devindeed/aurelay/internal/transport"
)

type sessionState int32

const (
	stateConstructing sessionState = iota
	stateRunning
	stateStopped
)

func (s sessionState) String() string {
	switch s {
	case stateConstructing:
		return "constructing"
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// initialSendBufferFrames is the number of frames the send buffer is sized
// for when the session is created. It grows as needed on the first larger
// buffer.
const initialSendBufferFrames = 2048

// captureSession is a live capture stream wired to a connected socket.
type captureSession struct {
	id        uint64
	log       slog.Logger
	stats     *stats
	startTime time.Time
	target    string

	sub     audio.Subsystem
	dev     audio.Device
	cfg     audio.StreamConfig
	socket  *transport.Socket
	enc     audio.Encoder
	capture audio.CaptureDevice
	started bool

	// sendSocket is the reference to socket held by the data callback.
	sendSocket *transport.Socket

	// sendBuf is only accessed from the data callback. The audio subsystem
	// never runs more than one callback of a stream at a time.
	sendBuf []byte

	state    atomic.Int32
	stopping atomic.Bool

	datagrams  atomic.Uint64
	bytesSent  atomic.Uint64
	sendErrors atomic.Uint64
}

func (s *captureSession) currentState() sessionState {
	return sessionState(s.state.Load())
}

// onData is called by the audio subsystem for every captured buffer. It
// encodes the buffer and attempts exactly one send. It must not block, lock
// or log.
func (s *captureSession) onData(_, in []byte, framecount uint32) {
	start := time.Now()

	s.sendBuf = s.enc.Encode(s.sendBuf[:0], in)
	if len(s.sendBuf) == 0 {
		return
	}

	n, err := s.sendSocket.TrySend(s.sendBuf)
	if err != nil {
		s.sendErrors.Add(1)
		s.stats.sendFailed(err)
	} else {
		s.datagrams.Add(1)
		s.bytesSent.Add(uint64(n))
		s.stats.datagramSent(n)
	}

	s.stats.callbackDuration.Observe(float64(time.Since(start).Microseconds()))
}

// onStopped is called by the audio subsystem when the capture device stops.
// A device stopping while the session is running is logged but does not end
// the session.
func (s *captureSession) onStopped() {
	if s.stopping.Load() {
		return
	}
	s.stats.deviceStops.Inc()
	s.log.Warnf("Capture device %q stopped unexpectedly", s.dev.Name)
}

// release stops the capture device (if it was started) and releases every
// resource held by the session. It blocks until the audio subsystem
// guarantees no further callbacks will be made.
func (s *captureSession) release() {
	s.stopping.Store(true)

	if s.capture != nil {
		if s.started {
			if err := s.capture.Stop(); err != nil {
				s.log.Warnf("Unable to stop capture device: %v", err)
			}
		}
		s.capture.Uninit()
		s.capture = nil
	}

	// The callback's reference is dropped only after the device is
	// uninitialized.
	if s.sendSocket != nil {
		if err := s.sendSocket.Close(); err != nil {
			s.log.Debugf("Unable to close callback socket: %v", err)
		}
		s.sendSocket = nil
	}
	if s.socket != nil {
		if err := s.socket.Close(); err != nil {
			s.log.Debugf("Unable to close socket: %v", err)
		}
		s.socket = nil
	}

	if s.sub != nil {
		if err := s.sub.Free(); err != nil {
			s.log.Warnf("Unable to free audio subsystem: %v", err)
		}
		s.sub = nil
	}

	s.state.Store(int32(stateStopped))
}

// SessionInfo is a snapshot of the active capture session.
type SessionInfo struct {
	ID         uint64             `json:"id"`
	State      string             `json:"state"`
	Device     audio.Device       `json:"device"`
	Config     audio.StreamConfig `json:"config"`
	Target     string             `json:"target"`
	LocalAddr  string             `json:"local_addr"`
	Started    time.Time          `json:"started"`
	Datagrams  uint64             `json:"datagrams"`
	BytesSent  uint64             `json:"bytes_sent"`
	SendErrors uint64             `json:"send_errors"`
}

func (s *captureSession) info() SessionInfo {
	info := SessionInfo{
		ID:         s.id,
		State:      s.currentState().String(),
		Device:     s.dev,
		Config:     s.cfg,
		Target:     s.target,
		Started:    s.startTime,
		Datagrams:  s.datagrams.Load(),
		BytesSent:  s.bytesSent.Load(),
		SendErrors: s.sendErrors.Load(),
	}
	if s.socket != nil {
		info.LocalAddr = s.socket.LocalAddr().String()
	}
	return info
}
