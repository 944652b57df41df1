package harmonic

import (
	"math"

	"github.com/RyanBlaney/sonido-clave/algorithms/common"
)

// SpectralPeak represents a detected spectral peak
type SpectralPeak struct {
	Frequency float64 // Interpolated peak frequency in Hz
	Magnitude float64 // Interpolated peak magnitude
	BinIndex  int     // Original FFT bin index
}

// SpectralPeaks picks sinusoidal peaks out of magnitude spectra
type SpectralPeaks struct {
	sampleRate   int
	windowSize   int
	minFreq      float64
	maxFreq      float64
	relThreshold float64 // fraction of the frame maximum a peak must exceed
}

// NewSpectralPeaks creates a new spectral peaks analyzer for one STFT layout
func NewSpectralPeaks(sampleRate, windowSize int, minFreq, maxFreq, relThreshold float64) *SpectralPeaks {
	return &SpectralPeaks{
		sampleRate:   sampleRate,
		windowSize:   windowSize,
		minFreq:      minFreq,
		maxFreq:      maxFreq,
		relThreshold: relThreshold,
	}
}

// DetectPeaks returns the local maxima of one magnitude frame inside the
// analysis band, refined with parabolic interpolation. Peaks come out in
// ascending bin order.
func (sp *SpectralPeaks) DetectPeaks(magnitudeSpectrum []float64) []SpectralPeak {
	n := len(magnitudeSpectrum)
	if n < 3 {
		return nil
	}

	freqResolution := float64(sp.sampleRate) / float64(sp.windowSize)
	lo := max(1, int(math.Ceil(sp.minFreq/freqResolution)))
	hi := min(n-1, int(math.Floor(sp.maxFreq/freqResolution)))

	threshold := sp.relThreshold * common.Max(magnitudeSpectrum)

	var peaks []SpectralPeak
	for i := lo; i < hi; i++ {
		y1, y2, y3 := magnitudeSpectrum[i-1], magnitudeSpectrum[i], magnitudeSpectrum[i+1]

		// Local maximum above threshold
		if y2 <= threshold || y2 <= y1 || y2 < y3 {
			continue
		}

		peak := SpectralPeak{
			Frequency: float64(i) * freqResolution,
			Magnitude: y2,
			BinIndex:  i,
		}

		// Parabolic interpolation for sub-bin accuracy
		denom := 2.0*y2 - y1 - y3
		if math.Abs(denom) > 1e-10 {
			b := 0.5 * (y3 - y1)
			offset := b / denom
			peak.Frequency = (float64(i) + offset) * freqResolution
			peak.Magnitude = y2 + 0.5*b*offset
		}

		peaks = append(peaks, peak)
	}

	return peaks
}
