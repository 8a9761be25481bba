package audio

// Resample converts samples from srcRate to dstRate by linear
// interpolation. When downsampling, a box filter sized to the rate ratio
// runs first to keep speech sibilants from aliasing.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}

	if srcRate > dstRate {
		samples = boxFilter(samples, (srcRate+dstRate-1)/dstRate)
	}

	ratio := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(samples))/ratio))
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// boxFilter is a centered moving average of width taps.
func boxFilter(samples []float32, taps int) []float32 {
	if taps <= 1 {
		return samples
	}
	half := taps / 2
	out := make([]float32, len(samples))
	var sum float32
	count := 0
	lo, hi := 0, 0
	for i := range samples {
		for hi < len(samples) && hi <= i+half {
			sum += samples[hi]
			hi++
			count++
		}
		for lo < i-half {
			sum -= samples[lo]
			lo++
			count--
		}
		out[i] = sum / float32(count)
	}
	return out
}
