package audio

import (
	"math"
	"time"
)

// ToneRate is the sample rate of generated clips.
const ToneRate = 22050

// segment is one steady or swept tone; silence when both frequencies are 0.
type segment struct {
	from, to float64
	dur      time.Duration
}

// Klaxon patterns for the built-in sound set.
var (
	// hi-lo two-tone, three cycles
	fireKlaxon = repeat([]segment{{960, 960, 350 * time.Millisecond}, {770, 770, 350 * time.Millisecond}}, 3)
	// rising wail twice
	emsKlaxon = repeat([]segment{{600, 1300, 700 * time.Millisecond}, {0, 0, 100 * time.Millisecond}}, 2)
	// two descending chirps
	closeChime = []segment{{880, 880, 150 * time.Millisecond}, {0, 0, 80 * time.Millisecond}, {660, 660, 250 * time.Millisecond}}
)

// FireKlaxon, EMSKlaxon and CloseChime render the built-in clips played
// when no custom sound is configured or it cannot be fetched.
func FireKlaxon() []byte { return render(fireKlaxon) }
func EMSKlaxon() []byte  { return render(emsKlaxon) }
func CloseChime() []byte { return render(closeChime) }

// Silence is a clip of d of silence, used to open the output device.
func Silence(d time.Duration) []byte {
	return SamplesToWAV(make([]float32, samplesFor(d)), ToneRate)
}

func repeat(pattern []segment, n int) []segment {
	out := make([]segment, 0, len(pattern)*n)
	for range n {
		out = append(out, pattern...)
	}
	return out
}

func samplesFor(d time.Duration) int {
	return int(d.Seconds() * ToneRate)
}

func render(segments []segment) []byte {
	var samples []float32
	phase := 0.0
	for _, seg := range segments {
		n := samplesFor(seg.dur)
		ramp := min(n/10, ToneRate/200)
		for i := range n {
			if seg.from == 0 && seg.to == 0 {
				samples = append(samples, 0)
				continue
			}
			freq := seg.from + (seg.to-seg.from)*float64(i)/float64(n)
			phase += 2 * math.Pi * freq / ToneRate
			gain := 0.6
			if i < ramp {
				gain *= float64(i) / float64(ramp)
			} else if n-i < ramp {
				gain *= float64(n-i) / float64(ramp)
			}
			samples = append(samples, float32(math.Sin(phase)*gain))
		}
	}
	return SamplesToWAV(samples, ToneRate)
}
