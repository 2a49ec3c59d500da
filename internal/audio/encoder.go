package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// AppendFloat32LE appends the little-endian serialization of samples to dst.
func AppendFloat32LE(dst []byte, samples []float32) []byte {
	dst = slices.Grow(dst, len(samples)*4)
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// AppendInt16LE appends the little-endian serialization of samples to dst.
func AppendInt16LE(dst []byte, samples []int16) []byte {
	dst = slices.Grow(dst, len(samples)*2)
	for _, s := range samples {
		dst = append(dst, byte(s), byte(s>>8))
	}
	return dst
}

// AppendUint16LE appends the little-endian serialization of samples to dst.
func AppendUint16LE(dst []byte, samples []uint16) []byte {
	dst = slices.Grow(dst, len(samples)*2)
	for _, s := range samples {
		dst = append(dst, byte(s), byte(s>>8))
	}
	return dst
}

// Encoder serializes raw captured buffers into the wire format: every sample
// in little-endian order, concatenated, with no framing.
//
// Encoder is immutable and safe for concurrent use.
type Encoder struct {
	enc  SampleEncoding
	size int
}

// NewEncoder returns the encoder for the given sample encoding. Returns
// ErrUnsupportedEncoding for encodings other than f32, s16 and u16.
func NewEncoder(enc SampleEncoding) (Encoder, error) {
	if !enc.Supported() {
		return Encoder{}, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
	return Encoder{enc: enc, size: enc.SampleSize()}, nil
}

// Encoding is the sample encoding handled by the encoder.
func (e Encoder) Encoding() SampleEncoding {
	return e.enc
}

// EncodedLen is the number of bytes Encode appends for a raw buffer of rawLen
// bytes. Trailing bytes that do not form a full sample are dropped.
func (e Encoder) EncodedLen(rawLen int) int {
	if e.size == 0 {
		return 0
	}
	return rawLen / e.size * e.size
}

// Encode appends the little-endian serialization of raw to dst. raw holds
// samples in the host's native byte order, as delivered by the audio
// subsystem.
func (e Encoder) Encode(dst, raw []byte) []byte {
	n := e.EncodedLen(len(raw))
	dst = slices.Grow(dst, n)
	switch e.size {
	case 4:
		for i := 0; i < n; i += 4 {
			dst = binary.LittleEndian.AppendUint32(dst, binary.NativeEndian.Uint32(raw[i:]))
		}
	case 2:
		for i := 0; i < n; i += 2 {
			dst = binary.LittleEndian.AppendUint16(dst, binary.NativeEndian.Uint16(raw[i:]))
		}
	}
	return dst
}
