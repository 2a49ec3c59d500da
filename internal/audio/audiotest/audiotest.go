// Package audiotest provides a fake audio subsystem for tests.
package audiotest

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/decred/slog"
	"github.com/devindeed/aurelay/internal/audio"
)

// ErrNotStarted is returned by Deliver when no capture device is running.
var ErrNotStarted = errors.New("no capture device started")

// Subsystem is a fake audio.Subsystem. The exported fields configure its
// behavior and must be set before it is used.
type Subsystem struct {
	Devices []audio.Device
	Config  audio.StreamConfig

	ListErr   error
	ConfigErr error
	InitErr   error
	StartErr  error
	NewErr    error

	// These are written (without blocking) on the matching device event.
	Started  chan struct{}
	Stopped  chan struct{}
	Uninited chan struct{}

	mtx     sync.Mutex
	open    int
	live    int
	maxLive int
	inits   int
	lastDev audio.Device
	lastCfg audio.StreamConfig
	running *device

	// cbMtx is held while a callback runs.
	cbMtx sync.Mutex
}

// New returns a fake subsystem that reports the given devices, all of which
// have the given default input config.
func New(cfg audio.StreamConfig, devs ...audio.Device) *Subsystem {
	return &Subsystem{
		Devices:  devs,
		Config:   cfg,
		Started:  make(chan struct{}, 5),
		Stopped:  make(chan struct{}, 5),
		Uninited: make(chan struct{}, 5),
	}
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Factory returns a factory that hands out this subsystem.
func (s *Subsystem) Factory() audio.SubsystemFactory {
	return func(_ slog.Logger) (audio.Subsystem, error) {
		if s.NewErr != nil {
			return nil, s.NewErr
		}
		s.mtx.Lock()
		s.open++
		s.mtx.Unlock()
		return s, nil
	}
}

func (s *Subsystem) Name() string { return "testaudio" }

func (s *Subsystem) CaptureDevices() ([]audio.Device, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return append([]audio.Device(nil), s.Devices...), nil
}

func (s *Subsystem) DefaultInputConfig(dev audio.Device) (audio.StreamConfig, error) {
	if s.ConfigErr != nil {
		return audio.StreamConfig{}, s.ConfigErr
	}
	return s.Config, nil
}

func (s *Subsystem) InitCapture(dev audio.Device, cfg audio.StreamConfig, cbs audio.CaptureCallbacks) (audio.CaptureDevice, error) {
	if s.InitErr != nil {
		return nil, s.InitErr
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.inits++
	s.live++
	s.maxLive = max(s.maxLive, s.live)
	s.lastDev = dev
	s.lastCfg = cfg
	return &device{s: s, cbs: cbs}, nil
}

func (s *Subsystem) Free() error {
	s.mtx.Lock()
	s.open--
	s.mtx.Unlock()
	return nil
}

// Open is the number of subsystem instances handed out by the factory that
// were not freed yet.
func (s *Subsystem) Open() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.open
}

// Live is the number of capture devices that were initialized and not
// uninitialized yet.
func (s *Subsystem) Live() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.live
}

// MaxLive is the largest number of simultaneously live capture devices.
func (s *Subsystem) MaxLive() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.maxLive
}

// Inits is the total number of capture devices initialized.
func (s *Subsystem) Inits() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.inits
}

// LastCapture returns the device and config of the last initialized capture
// device.
func (s *Subsystem) LastCapture() (audio.Device, audio.StreamConfig) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.lastDev, s.lastCfg
}

// Deliver calls the data callback of the running capture device with the raw
// buffer, as the real-time thread of a subsystem would. The call happens
// synchronously in the caller's goroutine.
func (s *Subsystem) Deliver(raw []byte, framecount uint32) error {
	s.cbMtx.Lock()
	defer s.cbMtx.Unlock()

	s.mtx.Lock()
	dev := s.running
	s.mtx.Unlock()
	if dev == nil {
		return ErrNotStarted
	}
	dev.cbs.Data(nil, raw, framecount)
	return nil
}

// FailDevice simulates the subsystem stopping the running device on its own
// (for example, when it is unplugged).
func (s *Subsystem) FailDevice() error {
	s.cbMtx.Lock()
	defer s.cbMtx.Unlock()

	s.mtx.Lock()
	dev := s.running
	s.running = nil
	s.mtx.Unlock()
	if dev == nil {
		return ErrNotStarted
	}
	if dev.cbs.Stopped != nil {
		dev.cbs.Stopped()
	}
	return nil
}

type device struct {
	s   *Subsystem
	cbs audio.CaptureCallbacks
}

func (d *device) Start() error {
	if d.s.StartErr != nil {
		return d.s.StartErr
	}
	d.s.mtx.Lock()
	d.s.running = d
	d.s.mtx.Unlock()
	signal(d.s.Started)
	return nil
}

func (d *device) Stop() error {
	// Wait for any in-flight callback to complete.
	d.s.cbMtx.Lock()
	defer d.s.cbMtx.Unlock()

	d.s.mtx.Lock()
	if d.s.running == d {
		d.s.running = nil
	}
	d.s.mtx.Unlock()
	if d.cbs.Stopped != nil {
		d.cbs.Stopped()
	}
	signal(d.s.Stopped)
	return nil
}

func (d *device) Uninit() {
	d.s.cbMtx.Lock()
	defer d.s.cbMtx.Unlock()

	d.s.mtx.Lock()
	if d.s.running == d {
		d.s.running = nil
	}
	d.s.live--
	d.s.mtx.Unlock()
	signal(d.s.Uninited)
}

// NativeFloat32s returns samples as raw bytes in the host's byte order.
func NativeFloat32s(samples ...float32) []byte {
	b := make([]byte, 0, len(samples)*4)
	for _, s := range samples {
		b = binary.NativeEndian.AppendUint32(b, math.Float32bits(s))
	}
	return b
}

// NativeInt16s returns samples as raw bytes in the host's byte order.
func NativeInt16s(samples ...int16) []byte {
	b := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		b = binary.NativeEndian.AppendUint16(b, uint16(s))
	}
	return b
}

// NativeUint16s returns samples as raw bytes in the host's byte order.
func NativeUint16s(samples ...uint16) []byte {
	b := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		b = binary.NativeEndian.AppendUint16(b, s)
	}
	return b
}
