//go:build cgo && !noaudio

package audio

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/decred/slog"

	"github.com/gen2brain/malgo"
)

// toMalgoDeviceId converts a device id to a malgo device id.
func (id DeviceID) toMalgoDeviceId() malgo.DeviceID {
	var res malgo.DeviceID
	if runtime.GOOS == "android" {
		i, err := strconv.ParseInt(string(id), 10, 32)
		if err == nil {
			binary.LittleEndian.PutUint32(res[:], uint32(i))
		}

	} else {
		copy(res[:], id)
	}
	return res
}

func init() {
	newSubsystem = newMalgoSubsystem
}

// encodingFromMalgo maps a miniaudio sample format to the encodings that can
// be streamed. miniaudio has no unsigned 16 bit format, so u8, s24 and s32
// devices map to EncodingOther.
func encodingFromMalgo(f malgo.FormatType) SampleEncoding {
	switch f {
	case malgo.FormatF32:
		return EncodingFloat32
	case malgo.FormatS16:
		return EncodingInt16
	default:
		return EncodingOther
	}
}

func malgoFormat(enc SampleEncoding) (malgo.FormatType, error) {
	switch enc {
	case EncodingFloat32:
		return malgo.FormatF32, nil
	case EncodingInt16:
		return malgo.FormatS16, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
}

// malgoSubsystem is an implementation of Subsystem which offloads the work to
// the malgo library.
type malgoSubsystem struct {
	log      slog.Logger
	malgoCtx *malgo.AllocatedContext
}

// emptyDeviceID is an empty malgo device id.
var emptyDeviceID malgo.DeviceID

// newMalgoSubsystem creates a new Subsystem using malgo.
func newMalgoSubsystem(log slog.Logger) (Subsystem, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debugf("miniaudio: %s", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, err
	}

	return &malgoSubsystem{log: log, malgoCtx: malgoCtx}, nil
}

func (ms *malgoSubsystem) Name() string {
	return "malgo"
}

func (ms *malgoSubsystem) Free() error {
	if err := ms.malgoCtx.Uninit(); err != nil {
		return err
	}
	ms.malgoCtx.Free()
	return nil
}

// CaptureDevices is part of the Subsystem interface.
func (ms *malgoSubsystem) CaptureDevices() ([]Device, error) {
	devices, err := ms.malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	res := make([]Device, 0, len(devices))
	setIds := make(map[DeviceID]struct{}, len(devices))
	for _, dev := range devices {
		full, err := ms.malgoCtx.DeviceInfo(malgo.Capture, dev.ID, malgo.Shared)
		if err != nil {
			ms.log.Warnf("Unable to get audio device info: %v", err)
			continue
		}

		// Avoid duplicate device IDs.
		id := DeviceID(string(append([]byte(nil), full.ID[:]...)))
		if _, ok := setIds[id]; ok {
			continue
		}
		setIds[id] = struct{}{}

		res = append(res, Device{
			ID:        id,
			Name:      full.Name(),
			IsDefault: full.IsDefault == 1,
		})
	}

	return res, nil
}

// DefaultInputConfig is part of the Subsystem interface. The first native
// data format with a supported encoding is the device's default
// configuration. Backends such as ALSA list formats in enumeration order, not
// by preference.
func (ms *malgoSubsystem) DefaultInputConfig(dev Device) (StreamConfig, error) {
	info, err := ms.malgoCtx.DeviceInfo(malgo.Capture, dev.ID.toMalgoDeviceId(), malgo.Shared)
	if err != nil {
		return StreamConfig{}, fmt.Errorf("%w: %v", ErrNoFormat, err)
	}
	if info.FormatCount == 0 || len(info.Formats) == 0 {
		return StreamConfig{}, ErrNoFormat
	}

	cfgs := make([]StreamConfig, 0, len(info.Formats))
	for _, f := range info.Formats {
		cfgs = append(cfgs, StreamConfig{
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
			Encoding:   encodingFromMalgo(f.Format),
		})
	}
	return PreferredConfig(cfgs)
}

// InitCapture is part of the Subsystem interface.
func (ms *malgoSubsystem) InitCapture(dev Device, cfg StreamConfig, cbs CaptureCallbacks) (CaptureDevice, error) {
	format, err := malgoFormat(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	malgoDeviceID := dev.ID.toMalgoDeviceId()
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = cfg.SampleRate
	if malgoDeviceID != emptyDeviceID {
		deviceConfig.Capture.DeviceID = malgoDeviceID.Pointer()
	}
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = cfg.Channels
	deviceConfig.Alsa.NoMMap = 1

	captureCallbacks := malgo.DeviceCallbacks{
		Data: malgo.DataProc(cbs.Data),
	}
	if cbs.Stopped != nil {
		captureCallbacks.Stop = malgo.StopProc(cbs.Stopped)
	}

	device, err := malgo.InitDevice(ms.malgoCtx.Context, deviceConfig, captureCallbacks)
	if err != nil {
		return nil, err
	}
	return device, nil
}
