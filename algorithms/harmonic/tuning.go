package harmonic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-clave/algorithms/common"
	"github.com/RyanBlaney/sonido-clave/algorithms/spectral"
	"github.com/RyanBlaney/sonido-clave/logging"
)

// Reference pitch for the tuning grid: A0, 440 Hz / 16
const tuningReferenceHz = 27.5

// TuningEstimator measures how far a recording sits from the A440
// equal-tempered grid.
//
// Sinusoidal peaks are picked from every STFT frame, the weaker half is
// discarded, and the fractional bin position of each remaining peak is
// histogrammed. The most populated histogram cell is the tuning offset.
type TuningEstimator struct {
	sampleRate    int
	binsPerOctave int
	resolution    float64
	stft          *spectral.STFT
	peaks         *SpectralPeaks
	logger        logging.Logger
}

// TuningParams contains the tuning estimation parameters
type TuningParams struct {
	WindowSize    int     `json:"window_size"`
	HopSize       int     `json:"hop_size"`
	MinFreq       float64 `json:"min_freq"`
	MaxFreq       float64 `json:"max_freq"`
	Threshold     float64 `json:"threshold"`       // relative peak threshold per frame
	BinsPerOctave int     `json:"bins_per_octave"` // grid the offset is measured in
	Resolution    float64 `json:"resolution"`      // histogram cell width, in bins
}

// DefaultTuningParams returns settings matched to a 36 bins-per-octave CQT
func DefaultTuningParams() TuningParams {
	return TuningParams{
		WindowSize:    2048,
		HopSize:       512,
		MinFreq:       150,
		MaxFreq:       4000,
		Threshold:     0.1,
		BinsPerOctave: 36,
		Resolution:    0.01,
	}
}

// NewTuningEstimator creates a tuning estimator
func NewTuningEstimator(sampleRate int, params TuningParams) *TuningEstimator {
	return &TuningEstimator{
		sampleRate:    sampleRate,
		binsPerOctave: params.BinsPerOctave,
		resolution:    params.Resolution,
		stft:          spectral.NewSTFT(params.WindowSize, params.HopSize),
		peaks:         NewSpectralPeaks(sampleRate, params.WindowSize, params.MinFreq, params.MaxFreq, params.Threshold),
		logger: logging.WithFields(logging.Fields{
			"component": "tuning_estimator",
		}),
	}
}

// Estimate returns the tuning offset in fractions of a bin, within [-0.5, 0.5).
// A signal without usable peaks is reported as perfectly tuned.
func (te *TuningEstimator) Estimate(signal []float64) (float64, error) {
	if te.binsPerOctave <= 0 || te.resolution <= 0 || te.resolution >= 1 {
		return 0, fmt.Errorf("invalid tuning parameters: bins_per_octave=%d resolution=%f", te.binsPerOctave, te.resolution)
	}

	spec, err := te.stft.Compute(signal)
	if err != nil {
		return 0, fmt.Errorf("tuning stft: %w", err)
	}

	var peaks []SpectralPeak
	for _, frame := range spec.Magnitude {
		peaks = append(peaks, te.peaks.DetectPeaks(frame)...)
	}

	return te.fromPeaks(peaks), nil
}

// fromPeaks histograms the fractional bin deviation of the stronger peaks
func (te *TuningEstimator) fromPeaks(peaks []SpectralPeak) float64 {
	if len(peaks) == 0 {
		return 0
	}

	mags := make([]float64, len(peaks))
	for i, p := range peaks {
		mags[i] = p.Magnitude
	}
	threshold := common.Median(mags)

	var residuals []float64
	for _, p := range peaks {
		if p.Magnitude < threshold || p.Frequency <= 0 {
			continue
		}

		residual := math.Mod(float64(te.binsPerOctave)*math.Log2(p.Frequency/tuningReferenceHz), 1.0)
		if residual < 0 {
			residual += 1
		}
		if residual >= 0.5 {
			residual -= 1
		}
		residuals = append(residuals, residual)
	}
	if len(residuals) == 0 {
		return 0
	}

	cells := int(math.Ceil(1 / te.resolution))
	dividers := make([]float64, cells+1)
	floats.Span(dividers, -0.5, 0.5)

	floats.Argsort(residuals, make([]int, len(residuals)))
	counts := stat.Histogram(nil, dividers, residuals, nil)

	offset := dividers[floats.MaxIdx(counts)]

	te.logger.Debug("Tuning estimated", logging.Fields{
		"peaks":  len(residuals),
		"offset": offset,
	})

	return offset
}

// TuningFrequency converts a bin offset into the equivalent A4 reference
func TuningFrequency(reference, offset float64, binsPerOctave int) float64 {
	return reference * math.Exp2(offset/float64(binsPerOctave))
}
