package common

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
)

// ResampleQuality trades resampling filter length against speed
type ResampleQuality int

const (
	QualityFast ResampleQuality = iota
	QualityMedium
	QualityHigh
)

// kernelOversample is the number of kernel table entries per sinc zero crossing
const kernelOversample = 512

type resampleFilter struct {
	zeros   int     // sinc zero crossings on each side of the centre
	rolloff float64 // cutoff as a fraction of the lower Nyquist frequency
}

var resampleFilters = map[ResampleQuality]resampleFilter{
	QualityFast:   {zeros: 16, rolloff: 0.85},
	QualityMedium: {zeros: 32, rolloff: 0.90},
	QualityHigh:   {zeros: 64, rolloff: 0.95},
}

// Resampler converts signals between two sample rates by band-limited
// interpolation.
//
// Each output sample is a Blackman-Harris windowed sinc sum over the input.
// The cutoff sits below the lower of the two Nyquist frequencies, so when
// downsampling, content above the target Nyquist is attenuated rather than
// aliased into the band.
type Resampler struct {
	fromRate int
	toRate   int
	step     float64 // input samples per output sample
	cutoff   float64 // relative to the input Nyquist frequency
	zeros    int
	table    []float64 // windowed sinc over [0, zeros], kernelOversample entries per unit
}

// NewResampler creates a resampler from fromRate to toRate
func NewResampler(fromRate, toRate int, quality ResampleQuality) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive: %d -> %d", fromRate, toRate)
	}

	f, ok := resampleFilters[quality]
	if !ok {
		f = resampleFilters[QualityMedium]
	}

	n := f.zeros * kernelOversample
	full := make([]float64, 2*n+1)
	for i := range full {
		full[i] = sinc(float64(i-n) / kernelOversample)
	}
	window.BlackmanHarris(full)

	return &Resampler{
		fromRate: fromRate,
		toRate:   toRate,
		step:     float64(fromRate) / float64(toRate),
		cutoff:   f.rolloff * math.Min(1, float64(toRate)/float64(fromRate)),
		zeros:    f.zeros,
		table:    full[n:],
	}, nil
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// kernel evaluates the low-pass impulse response d input samples from its centre
func (r *Resampler) kernel(d float64) float64 {
	u := math.Abs(d) * r.cutoff
	if u >= float64(r.zeros) {
		return 0
	}

	pos := u * kernelOversample
	i := int(pos)
	frac := pos - float64(i)
	return r.cutoff * (r.table[i]*(1-frac) + r.table[i+1]*frac)
}

// Process resamples signal into len(signal)*toRate/fromRate samples.
// Output sample i is aligned with input time i*fromRate/toRate.
func (r *Resampler) Process(signal []float64) []float64 {
	if r.fromRate == r.toRate {
		out := make([]float64, len(signal))
		copy(out, signal)
		return out
	}

	out := make([]float64, len(signal)*r.toRate/r.fromRate)
	half := float64(r.zeros) / r.cutoff

	for i := range out {
		t := float64(i) * r.step
		lo := max(0, int(math.Ceil(t-half)))
		hi := min(len(signal)-1, int(math.Floor(t+half)))

		// Dividing by the kernel sum keeps unit DC gain near the edges
		var acc, norm float64
		for j := lo; j <= hi; j++ {
			h := r.kernel(t - float64(j))
			acc += h * signal[j]
			norm += h
		}
		if norm > 0 {
			out[i] = acc / norm
		}
	}

	return out
}
