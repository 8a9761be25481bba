package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrNotWAV = errors.New("not a PCM WAV clip")

// SamplesToWAV encodes mono float32 samples as 16-bit PCM WAV.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	totalLen := 44 + dataLen

	buf := make([]byte, totalLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(totalLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(int16(clamped*math.MaxInt16)))
	}
	return buf
}

// DecodeWAV reads an 8, 16 or 24-bit PCM WAV clip and mixes it down to mono samples
// in [-1, 1]. Chunks other than fmt and data are skipped.
func DecodeWAV(clip []byte) ([]float32, int, error) {
	if len(clip) < 12 || string(clip[0:4]) != "RIFF" || string(clip[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var channels, bits, rate int
	pos := 12
	for pos+8 <= len(clip) {
		id := string(clip[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(clip[pos+4 : pos+8]))
		body := pos + 8
		end := min(body+size, len(clip))

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if format := binary.LittleEndian.Uint16(clip[body:]); format != 1 {
				return nil, 0, fmt.Errorf("%w: format %d", ErrNotWAV, format)
			}
			channels = int(binary.LittleEndian.Uint16(clip[body+2:]))
			rate = int(binary.LittleEndian.Uint32(clip[body+4:]))
			bits = int(binary.LittleEndian.Uint16(clip[body+14:]))
		case "data":
			if channels == 0 {
				return nil, 0, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			samples, err := decodePCM(clip[body:end], bits)
			if err != nil {
				return nil, 0, err
			}
			return mixDown(samples, channels), rate, nil
		}
		pos = body + size + size%2
	}
	return nil, 0, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

func mixDown(samples []float32, channels int) []float32 {
	if channels == 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Normalize re-encodes a speech clip as mono WAV at rate so every clip
// reaching the output device has one format. Clips that are not PCM WAV
// (mp3 from a cloud engine) pass through untouched.
func Normalize(clip []byte, rate int) []byte {
	samples, src, err := DecodeWAV(clip)
	if err != nil || rate <= 0 {
		return clip
	}
	return SamplesToWAV(Resample(samples, src, rate), rate)
}
