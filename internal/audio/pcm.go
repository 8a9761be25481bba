package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// decodePCM converts little-endian integer PCM frames to samples in [-1, 1].
// 8-bit WAV data is unsigned; wider depths are signed.
func decodePCM(data []byte, bits int) ([]float32, error) {
	width := bits / 8
	if bits%8 != 0 || width < 1 || width > 3 {
		return nil, fmt.Errorf("%w: %d-bit", ErrNotWAV, bits)
	}
	n := len(data) / width
	samples := make([]float32, n)
	for i := range n {
		frame := data[i*width:]
		switch width {
		case 1:
			samples[i] = float32(int(frame[0])-128) / 128
		case 2:
			samples[i] = float32(int16(binary.LittleEndian.Uint16(frame))) / math.MaxInt16
		case 3:
			// sign-extend from the top byte
			v := int32(frame[0]) | int32(frame[1])<<8 | int32(int8(frame[2]))<<16
			samples[i] = float32(v) / (1<<23 - 1)
		}
	}
	return samples, nil
}
