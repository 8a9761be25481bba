package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1}
	out, rate, err := DecodeWAV(SamplesToWAV(in, 16000))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 || len(out) != len(in) {
		t.Fatalf("rate %d len %d", rate, len(out))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeWAVRejectsOtherFormats(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("ID3\x04mp3 bytes here")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("mp3 = %v, want ErrNotWAV", err)
	}
}

// rawWAV wraps already-encoded PCM frames in a minimal RIFF header.
func rawWAV(bits, channels, rate int, data []byte) []byte {
	buf := make([]byte, 44, 44+len(data))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(data)))
	copy(buf[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(rate*channels*bits/8))
	binary.LittleEndian.PutUint16(buf[32:], uint16(channels*bits/8))
	binary.LittleEndian.PutUint16(buf[34:], uint16(bits))
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(data)))
	return append(buf, data...)
}

func TestDecodeWAVBitDepths(t *testing.T) {
	cases := []struct {
		name     string
		bits     int
		channels int
		data     []byte
		want     []float32
	}{
		{"8-bit unsigned", 8, 1, []byte{0, 128, 255}, []float32{-1, 0, 127.0 / 128}},
		{"24-bit stereo", 24, 2, []byte{
			0xff, 0xff, 0x7f, 0x01, 0x00, 0x80, // +max, -max
			0x00, 0x00, 0x40, 0x00, 0x00, 0x40, // +half, +half
		}, []float32{0, 0.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, rate, err := DecodeWAV(rawWAV(tc.bits, tc.channels, 8000, tc.data))
			if err != nil {
				t.Fatalf("DecodeWAV: %v", err)
			}
			if rate != 8000 || len(got) != len(tc.want) {
				t.Fatalf("rate %d samples %v", rate, got)
			}
			for i := range got {
				if math.Abs(float64(got[i]-tc.want[i])) > 1e-4 {
					t.Fatalf("sample %d = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}

	if _, _, err := DecodeWAV(rawWAV(32, 1, 8000, make([]byte, 8))); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("32-bit = %v, want ErrNotWAV", err)
	}
}

func TestNormalizeResamplesWAVAndPassesOthers(t *testing.T) {
	clip := SamplesToWAV(make([]float32, 22050), 22050)
	out := Normalize(clip, 16000)
	samples, rate, err := DecodeWAV(out)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 || len(samples) != 16000 {
		t.Fatalf("normalized rate %d len %d, want 16000/16000", rate, len(samples))
	}

	mp3 := []byte("ID3 not wav")
	if got := Normalize(mp3, 16000); string(got) != string(mp3) {
		t.Fatal("non-WAV clip was modified")
	}
}

func TestBuiltInClipsAreAudible(t *testing.T) {
	for name, clip := range map[string][]byte{"fire": FireKlaxon(), "ems": EMSKlaxon(), "close": CloseChime()} {
		samples, rate, err := DecodeWAV(clip)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if rate != ToneRate || len(samples) < ToneRate/4 {
			t.Fatalf("%s: rate %d len %d", name, rate, len(samples))
		}
		var peak float32
		for _, s := range samples {
			peak = max(peak, s)
		}
		if peak < 0.3 {
			t.Fatalf("%s: peak %v too quiet", name, peak)
		}
	}
}

func TestCommandOutputReportsFailure(t *testing.T) {
	if _, err := NewCommandOutput("  "); err == nil {
		t.Fatal("empty command accepted")
	}
	out, _ := NewCommandOutput("false")
	if err := out.Play(context.Background(), Silence(0)); err == nil {
		t.Fatal("failing player reported success")
	}
	ok, _ := NewCommandOutput("cat")
	if err := ok.Play(context.Background(), CloseChime()); err != nil {
		t.Fatalf("cat player: %v", err)
	}
}
