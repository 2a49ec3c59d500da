package audio

import (
	"errors"

	"github.com/decred/slog"
)

var (
	// ErrNoDevice is returned when no input device could be selected.
	ErrNoDevice = errors.New("no input device found")

	// ErrNoFormat is returned when a device does not report a usable
	// default input configuration.
	ErrNoFormat = errors.New("device has no usable default input config")

	// ErrUnsupportedEncoding is returned when the negotiated sample
	// encoding cannot be serialized.
	ErrUnsupportedEncoding = errors.New("unsupported sample encoding")
)

// DeviceID is the opaque, subsystem-specific identifier of a device.
type DeviceID string

// Device is an input endpoint reported by the audio subsystem.
type Device struct {
	ID        DeviceID `json:"id"`
	Name      string   `json:"name"`
	IsDefault bool     `json:"is_default"`
}

// DataProc is the signature of the function called by the audio subsystem
// with each captured buffer. inSamples holds framecount frames of raw samples
// in the negotiated encoding and the host's native byte order.
//
// DataProc is called on the subsystem's real-time thread and MUST NOT block.
type DataProc func(outSamples, inSamples []byte, framecount uint32)

// CaptureCallbacks are the callbacks installed on a capture device.
type CaptureCallbacks struct {
	// Data is called for every captured buffer.
	Data DataProc

	// Stopped is called when the device stops, either because Stop() was
	// called or because the subsystem stopped it (for example, due to a
	// device error). It may be nil.
	Stopped func()
}

// CaptureDevice is an initialized capture stream.
type CaptureDevice interface {
	Start() error
	Stop() error
	Uninit()
}

// Subsystem is the audio subsystem used to enumerate devices and open capture
// streams.
type Subsystem interface {
	// Name of the driver.
	Name() string

	// CaptureDevices lists the input-capable devices.
	CaptureDevices() ([]Device, error)

	// DefaultInputConfig returns the default input configuration of the
	// device.
	DefaultInputConfig(dev Device) (StreamConfig, error)

	// InitCapture builds (but does not start) a capture stream on the
	// device.
	InitCapture(dev Device, cfg StreamConfig, cbs CaptureCallbacks) (CaptureDevice, error)

	// Free releases the subsystem resources. No devices initialized from
	// the subsystem may be used after Free is called.
	Free() error
}

// SubsystemFactory creates new audio subsystem instances.
type SubsystemFactory func(log slog.Logger) (Subsystem, error)

// newSubsystem is defined by the build-specific implementation.
var newSubsystem SubsystemFactory

// NewSubsystem initializes the audio subsystem compiled into this binary.
func NewSubsystem(log slog.Logger) (Subsystem, error) {
	if log == nil {
		log = slog.Disabled
	}
	return newSubsystem(log)
}

// ListCaptureDevices lists available capture devices.
func ListCaptureDevices(log slog.Logger) ([]Device, error) {
	if log == nil {
		log = slog.Disabled
	}
	sub, err := NewSubsystem(log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sub.Free(); err != nil {
			log.Warnf("Unable to free audio subsystem: %v", err)
		}
	}()
	return sub.CaptureDevices()
}
