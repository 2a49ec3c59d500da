package audio

import (
	"fmt"
)

// SampleEncoding is the numeric encoding of captured samples.
type SampleEncoding int

const (
	EncodingOther SampleEncoding = iota
	EncodingFloat32
	EncodingInt16
	EncodingUint16
)

func (e SampleEncoding) String() string {
	switch e {
	case EncodingFloat32:
		return "f32"
	case EncodingInt16:
		return "s16"
	case EncodingUint16:
		return "u16"
	default:
		return "other"
	}
}

// SampleSize is the serialized size of one sample in bytes. Returns zero for
// unsupported encodings.
func (e SampleEncoding) SampleSize() int {
	switch e {
	case EncodingFloat32:
		return 4
	case EncodingInt16, EncodingUint16:
		return 2
	default:
		return 0
	}
}

// Supported returns true if samples in this encoding can be serialized.
func (e SampleEncoding) Supported() bool {
	return e.SampleSize() > 0
}

// StreamConfig is the negotiated input configuration of a device. It is
// immutable once negotiated for a session.
type StreamConfig struct {
	SampleRate uint32         `json:"sample_rate"`
	Channels   uint32         `json:"channels"`
	Encoding   SampleEncoding `json:"encoding"`
}

func (cfg StreamConfig) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %s", cfg.SampleRate, cfg.Channels,
		cfg.Encoding)
}

// FrameSize is the size in bytes of one frame (one sample for every channel).
func (cfg StreamConfig) FrameSize() int {
	channels := int(cfg.Channels)
	if channels == 0 {
		channels = 1
	}
	return cfg.Encoding.SampleSize() * channels
}

// PreferredConfig returns the first config with a supported encoding. When
// none is supported the first config is returned, so that starting fails
// with the device's actual (unsupported) encoding.
func PreferredConfig(cfgs []StreamConfig) (StreamConfig, error) {
	if len(cfgs) == 0 {
		return StreamConfig{}, ErrNoFormat
	}
	for _, cfg := range cfgs {
		if cfg.Encoding.Supported() {
			return cfg, nil
		}
	}
	return cfgs[0], nil
}
