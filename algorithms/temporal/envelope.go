package temporal

import (
	"math"
)

// Envelope provides amplitude envelope extraction
type Envelope struct {
	// No state needed - stateless calculation
}

// NewEnvelope creates a new envelope extractor
func NewEnvelope() *Envelope {
	return &Envelope{}
}

// ComputeCenteredRMS computes an RMS envelope whose frame i is centred on
// sample i*hopSize. The signal is treated as zero outside its bounds, so the
// envelope has 1 + len(signal)/hopSize frames.
func (e *Envelope) ComputeCenteredRMS(signal []float64, frameSize, hopSize int) []float64 {
	if len(signal) == 0 || frameSize <= 0 || hopSize <= 0 {
		return []float64{}
	}

	numFrames := 1 + len(signal)/hopSize
	envelope := make([]float64, numFrames)
	half := frameSize / 2

	for i := range numFrames {
		startIdx := i*hopSize - half
		envelope[i] = frameRMS(signal, startIdx, startIdx+frameSize, frameSize)
	}

	return envelope
}

// frameRMS returns the RMS of signal[start:end] over frameSize samples,
// counting out-of-range positions as zeros.
func frameRMS(signal []float64, start, end, frameSize int) float64 {
	start = max(start, 0)
	end = min(end, len(signal))

	sumSquares := 0.0
	for j := start; j < end; j++ {
		sumSquares += signal[j] * signal[j]
	}
	return math.Sqrt(sumSquares / float64(frameSize))
}
