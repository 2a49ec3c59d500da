//go:build !cgo || noaudio

// This subsystem is only used in cgo-less and noaudio builds.

package audio

import (
	"errors"

	"github.com/decred/slog"
)

func init() {
	newSubsystem = newNullSubsystem
}

var errAudioDisabledCompilation = errors.New("audio was disabled during compilation")

type nullSubsystem struct{}

func newNullSubsystem(_ slog.Logger) (Subsystem, error) {
	return nullSubsystem{}, nil
}

func (_ nullSubsystem) Name() string { return "nullaudio" }

func (_ nullSubsystem) CaptureDevices() ([]Device, error) {
	return nil, errAudioDisabledCompilation
}

func (_ nullSubsystem) DefaultInputConfig(dev Device) (StreamConfig, error) {
	return StreamConfig{}, errAudioDisabledCompilation
}

func (_ nullSubsystem) InitCapture(dev Device, cfg StreamConfig, cbs CaptureCallbacks) (CaptureDevice, error) {
	return nil, errAudioDisabledCompilation
}

func (_ nullSubsystem) Free() error {
	return nil
}
