package spectral

import (
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-clave/algorithms/windowing"
	"github.com/RyanBlaney/sonido-clave/logging"
)

// STFT provides a centred Short-Time Fourier Transform and its inverse.
// Frames are centred on multiples of the hop size; the signal is zero padded
// by half a window on both sides.
type STFT struct {
	fft        *FFT
	windowSize int
	hopSize    int
	window     *windowing.Hann
	logger     logging.Logger
}

// STFTResult holds the result of STFT analysis
type STFTResult struct {
	Magnitude    [][]float64    `json:"magnitude"`     // Time x Frequency magnitude matrix
	Complex      [][]complex128 `json:"-"`             // Raw complex spectrogram (not serialized)
	TimeFrames   int            `json:"time_frames"`   // Number of time frames
	FreqBins     int            `json:"freq_bins"`     // Number of frequency bins (windowSize/2+1)
	WindowSize   int            `json:"window_size"`   // FFT window size
	HopSize      int            `json:"hop_size"`      // Hop size between frames
	SignalLength int            `json:"signal_length"` // Length of the analysed signal
}

// NewSTFT creates a new STFT calculator with a periodic Hann window
func NewSTFT(windowSize, hopSize int) *STFT {
	return &STFT{
		fft:        NewFFT(),
		windowSize: windowSize,
		hopSize:    hopSize,
		window:     windowing.NewPeriodicHann(windowSize),
		logger: logging.WithFields(logging.Fields{
			"component": "stft",
		}),
	}
}

// Compute computes the centred STFT of signal using a pool of workers
func (s *STFT) Compute(signal []float64) (*STFTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	if s.windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}

	if s.hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive")
	}

	pad := s.windowSize / 2
	padded := make([]float64, len(signal)+2*pad)
	copy(padded[pad:], signal)

	numFrames := 1 + (len(padded)-s.windowSize)/s.hopSize
	freqBins := s.windowSize/2 + 1

	magnitude := make([][]float64, numFrames)
	complexSpectrum := make([][]complex128, numFrames)
	for i := range numFrames {
		magnitude[i] = make([]float64, freqBins)
		complexSpectrum[i] = make([]complex128, freqBins)
	}

	jobs := make(chan int, numFrames)
	var wg sync.WaitGroup

	for range workerCount(numFrames) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Reuse frame buffer for this worker
			frameBuffer := make([]float64, s.windowSize)

			for frameIdx := range jobs {
				start := frameIdx * s.hopSize
				copy(frameBuffer, padded[start:start+s.windowSize])

				// Sizes always match, so this cannot fail
				_ = s.window.ApplyInPlace(frameBuffer)

				fftResult := s.fft.Compute(frameBuffer)
				for i := range freqBins {
					complexSpectrum[frameIdx][i] = fftResult[i]
					magnitude[frameIdx][i] = cmplx.Abs(fftResult[i])
				}
			}
		}()
	}

	for frameIdx := range numFrames {
		jobs <- frameIdx
	}
	close(jobs)

	wg.Wait()

	s.logger.Debug("STFT computed", logging.Fields{
		"frames":    numFrames,
		"freq_bins": freqBins,
		"samples":   len(signal),
	})

	return &STFTResult{
		Magnitude:    magnitude,
		Complex:      complexSpectrum,
		TimeFrames:   numFrames,
		FreqBins:     freqBins,
		WindowSize:   s.windowSize,
		HopSize:      s.hopSize,
		SignalLength: len(signal),
	}, nil
}

// Inverse resynthesises a signal of the given length from a centred STFT
// using windowed overlap-add, normalised by the summed squared window.
func (s *STFT) Inverse(spectrum [][]complex128, length int) ([]float64, error) {
	if len(spectrum) == 0 {
		return nil, fmt.Errorf("empty spectrogram")
	}

	freqBins := s.windowSize/2 + 1
	for i, frame := range spectrum {
		if len(frame) != freqBins {
			return nil, fmt.Errorf("frame %d has %d bins, expected %d", i, len(frame), freqBins)
		}
	}

	numFrames := len(spectrum)
	frames := make([][]float64, numFrames)

	jobs := make(chan int, numFrames)
	var wg sync.WaitGroup

	for range workerCount(numFrames) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frameIdx := range jobs {
				frame := s.fft.ComputeInverseHalf(spectrum[frameIdx], s.windowSize)
				_ = s.window.ApplyInPlace(frame)
				frames[frameIdx] = frame
			}
		}()
	}

	for frameIdx := range numFrames {
		jobs <- frameIdx
	}
	close(jobs)

	wg.Wait()

	coeffs := s.window.GetCoefficients()
	outLength := s.windowSize + s.hopSize*(numFrames-1)
	output := make([]float64, outLength)
	windowSumSquare := make([]float64, outLength)

	for frameIdx, frame := range frames {
		start := frameIdx * s.hopSize
		for i, v := range frame {
			output[start+i] += v
			windowSumSquare[start+i] += coeffs[i] * coeffs[i]
		}
	}

	tiny := math.SmallestNonzeroFloat64
	for i := range output {
		if windowSumSquare[i] > tiny {
			output[i] /= windowSumSquare[i]
		}
	}

	// Strip the centring pad and fit to the requested length
	pad := s.windowSize / 2
	result := make([]float64, length)
	if pad < len(output) {
		copy(result, output[pad:])
	}

	return result, nil
}

// workerCount determines the number of workers based on workload
func workerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	// For small workloads, don't over-parallelize
	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	// For medium workloads, use most CPUs
	if numFrames < 1000 {
		return min(numCPU, 8)
	}

	return numCPU
}
