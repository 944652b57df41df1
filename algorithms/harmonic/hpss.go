package harmonic

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-clave/algorithms/common"
	"github.com/RyanBlaney/sonido-clave/algorithms/spectral"
	"github.com/RyanBlaney/sonido-clave/logging"
)

// HPSS separates a signal into harmonic and percussive components by median
// filtering its magnitude spectrogram.
//
// Sustained pitched content forms horizontal ridges (stable over time, narrow
// in frequency) while transients form vertical ridges (short in time, broad in
// frequency). A median along time enhances the former, a median along
// frequency the latter. Each STFT cell is then split between the two with a
// soft Wiener mask:
//
//	M_h = H^p / (H^p + P^p),  M_p = P^p / (H^p + P^p)
//
// so the two resynthesised components sum back to the input.
//
// References:
//   - Fitzgerald, D. (2010). "Harmonic/Percussive Separation using Median Filtering"
//   - Driedger, J., Müller, M., Disch, S. (2014). "Extending Harmonic-Percussive
//     Separation of Audio Signals"
type HPSS struct {
	params HPSSParams
	stft   *spectral.STFT
	logger logging.Logger
}

// HPSSParams contains the separation parameters
type HPSSParams struct {
	WindowSize int     `json:"window_size"` // STFT size
	HopSize    int     `json:"hop_size"`    // STFT hop
	KernelSize int     `json:"kernel_size"` // median filter width, in frames and in bins
	Power      float64 `json:"power"`       // soft mask exponent
}

// HPSSResult holds both resynthesised components
type HPSSResult struct {
	Harmonic   []float64 `json:"-"`
	Percussive []float64 `json:"-"`
}

// DefaultHPSSParams returns the standard separation settings
func DefaultHPSSParams() HPSSParams {
	return HPSSParams{
		WindowSize: 2048,
		HopSize:    512,
		KernelSize: 31,
		Power:      2.0,
	}
}

// NewHPSS creates a new harmonic/percussive separator
func NewHPSS(params HPSSParams) *HPSS {
	return &HPSS{
		params: params,
		stft:   spectral.NewSTFT(params.WindowSize, params.HopSize),
		logger: logging.WithFields(logging.Fields{
			"component": "hpss",
		}),
	}
}

// NewDefaultHPSS creates a separator with DefaultHPSSParams
func NewDefaultHPSS() *HPSS {
	return NewHPSS(DefaultHPSSParams())
}

// Harmonic returns only the harmonic component of signal
func (h *HPSS) Harmonic(signal []float64) ([]float64, error) {
	result, err := h.separate(signal, false)
	if err != nil {
		return nil, err
	}
	return result.Harmonic, nil
}

// Separate returns both the harmonic and the percussive component of signal
func (h *HPSS) Separate(signal []float64) (*HPSSResult, error) {
	return h.separate(signal, true)
}

func (h *HPSS) separate(signal []float64, withPercussive bool) (*HPSSResult, error) {
	if h.params.KernelSize <= 0 {
		return nil, fmt.Errorf("kernel size must be positive: %d", h.params.KernelSize)
	}

	spec, err := h.stft.Compute(signal)
	if err != nil {
		return nil, fmt.Errorf("hpss stft: %w", err)
	}

	harmonicEnh := medianFilterTime(spec.Magnitude, h.params.KernelSize)
	percussiveEnh := medianFilterFrequency(spec.Magnitude, h.params.KernelSize)

	harmonicSpec := make([][]complex128, spec.TimeFrames)
	var percussiveSpec [][]complex128
	if withPercussive {
		percussiveSpec = make([][]complex128, spec.TimeFrames)
	}

	for t := range spec.TimeFrames {
		harmonicSpec[t] = make([]complex128, spec.FreqBins)
		if withPercussive {
			percussiveSpec[t] = make([]complex128, spec.FreqBins)
		}

		for f := range spec.FreqBins {
			hm := softMask(harmonicEnh[t][f], percussiveEnh[t][f], h.params.Power)
			harmonicSpec[t][f] = complex(hm, 0) * spec.Complex[t][f]

			if withPercussive {
				pm := softMask(percussiveEnh[t][f], harmonicEnh[t][f], h.params.Power)
				percussiveSpec[t][f] = complex(pm, 0) * spec.Complex[t][f]
			}
		}
	}

	harmonic, err := h.stft.Inverse(harmonicSpec, len(signal))
	if err != nil {
		return nil, fmt.Errorf("hpss harmonic resynthesis: %w", err)
	}

	result := &HPSSResult{Harmonic: harmonic}

	if withPercussive {
		result.Percussive, err = h.stft.Inverse(percussiveSpec, len(signal))
		if err != nil {
			return nil, fmt.Errorf("hpss percussive resynthesis: %w", err)
		}
	}

	h.logger.Debug("Harmonic/percussive separation completed", logging.Fields{
		"samples":     len(signal),
		"frames":      spec.TimeFrames,
		"kernel_size": h.params.KernelSize,
	})

	return result, nil
}

// softMask returns the share of a cell assigned to x against ref.
// Cells where both enhancements vanish are assigned to neither component.
func softMask(x, ref, power float64) float64 {
	z := math.Max(x, ref)
	if z < math.SmallestNonzeroFloat64 {
		return 0.0
	}

	mask := math.Pow(x/z, power)
	refMask := math.Pow(ref/z, power)
	return mask / (mask + refMask)
}

// medianFilterTime applies a median of width kernel along the time axis of
// each frequency bin (mag is indexed [frame][bin]).
func medianFilterTime(mag [][]float64, kernel int) [][]float64 {
	numFrames := len(mag)
	numBins := len(mag[0])
	out := allocLike(numFrames, numBins)
	half := kernel / 2

	parallelFor(numBins, func(f int, window []float64) {
		for t := range numFrames {
			for k := range kernel {
				window[k] = mag[common.ReflectIndex(t-half+k, numFrames)][f]
			}
			out[t][f] = common.Median(window)
		}
	}, kernel)

	return out
}

// medianFilterFrequency applies a median of width kernel along the frequency
// axis of each frame.
func medianFilterFrequency(mag [][]float64, kernel int) [][]float64 {
	numFrames := len(mag)
	numBins := len(mag[0])
	out := allocLike(numFrames, numBins)
	half := kernel / 2

	parallelFor(numFrames, func(t int, window []float64) {
		row := mag[t]
		for f := range numBins {
			for k := range kernel {
				window[k] = row[common.ReflectIndex(f-half+k, numBins)]
			}
			out[t][f] = common.Median(window)
		}
	}, kernel)

	return out
}

func allocLike(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

// parallelFor runs fn for every index in [0, n) on a pool of workers.
// Each worker owns a scratch buffer of bufSize elements.
func parallelFor(n int, fn func(i int, buf []float64), bufSize int) {
	numWorkers := max(1, min(runtime.NumCPU(), n))

	jobs := make(chan int, n)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]float64, bufSize)
			for i := range jobs {
				fn(i, buf)
			}
		}()
	}

	for i := range n {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
}
