package chroma

import (
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-clave/algorithms/common"
	"github.com/RyanBlaney/sonido-clave/algorithms/spectral"
	"github.com/RyanBlaney/sonido-clave/algorithms/windowing"
	"github.com/RyanBlaney/sonido-clave/logging"
)

// ChromaCQT computes a chromagram from a Constant-Q Transform.
//
// CQT frequency spacing: f_k = f_min * 2^(k/bins_per_octave), with every bin
// sharing the same quality factor Q = 1 / (2^(1/bins_per_octave) - 1). The
// analysis window for bin k is therefore Q*sr/f_k samples long: long at low
// frequencies, short at high ones.
//
// The transform uses the spectral kernel method: each bin's time-domain kernel
// (a Hann-windowed complex exponential) is transformed once and sparsified, so
// every frame costs one FFT plus a sparse dot product per bin.
//
// References:
//   - Brown, J.C. (1991). "Calculation of a constant Q spectral transform"
//   - Brown, J.C., Puckette, M.S. (1992). "An efficient algorithm for the
//     calculation of a constant Q transform"
type ChromaCQT struct {
	sampleRate int
	params     CQTParams
	fft        *spectral.FFT
	logger     logging.Logger

	// Pre-computed CQT kernel, built once on first use
	kernelOnce sync.Once
	kernelErr  error
	kernel     []sparseKernel
	freqBins   []float64
	chromaMap  []int
	fftSize    int
}

// CQTParams contains the constant-Q analysis parameters
type CQTParams struct {
	MinFreq       float64 `json:"min_freq"`        // lowest bin centre (Hz)
	NumOctaves    int     `json:"num_octaves"`     // octaves spanned upward from MinFreq
	BinsPerOctave int     `json:"bins_per_octave"` // multiple of 12
	HopSize       int     `json:"hop_size"`        // samples between frames
	TuningFreq    float64 `json:"tuning_freq"`     // A4 reference (Hz)
	Sparsity      float64 `json:"sparsity"`        // kernel entries below this fraction of the peak are dropped
}

// sparseKernel holds the non-negligible spectral kernel entries of one bin,
// already conjugated and scaled by 1/N.
type sparseKernel struct {
	index []int
	coef  []complex128
}

// DefaultCQTParams returns the chroma settings for a given low-frequency floor:
// 5 octaves at 36 bins per octave, hop 512, A4 = 440 Hz.
func DefaultCQTParams(minFreq float64) CQTParams {
	return CQTParams{
		MinFreq:       minFreq,
		NumOctaves:    5,
		BinsPerOctave: 36,
		HopSize:       512,
		TuningFreq:    440.0,
		Sparsity:      0.0054,
	}
}

// NewChromaCQT creates a new CQT-based chromagram calculator
func NewChromaCQT(sampleRate int, params CQTParams) *ChromaCQT {
	return &ChromaCQT{
		sampleRate: sampleRate,
		params:     params,
		fft:        spectral.NewFFT(),
		logger: logging.WithFields(logging.Fields{
			"component": "chroma_cqt",
			"min_freq":  params.MinFreq,
		}),
	}
}

// MinFrequency returns the lowest analysed frequency
func (cqt *ChromaCQT) MinFrequency() float64 {
	return cqt.params.MinFreq
}

// Extract computes the chromagram of signal and sums it over time
func (cqt *ChromaCQT) Extract(signal []float64) (ChromaVector, error) {
	chromagram, err := cqt.ComputeChroma(signal)
	if err != nil {
		return ChromaVector{}, err
	}
	return SumOverTime(chromagram)
}

// ComputeChroma computes the time x pitch-class chromagram of signal.
// Each frame is scaled so its strongest pitch class is 1; silent frames stay zero.
func (cqt *ChromaCQT) ComputeChroma(signal []float64) ([][]float64, error) {
	cqtSpectrogram, err := cqt.ComputeCQT(signal)
	if err != nil {
		return nil, err
	}

	return cqt.convertCQTToChroma(cqtSpectrogram), nil
}

// ComputeCQT computes the constant-Q magnitude spectrogram (time x CQ bin)
func (cqt *ChromaCQT) ComputeCQT(signal []float64) ([][]float64, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	if err := cqt.ensureKernel(); err != nil {
		return nil, err
	}

	hop := cqt.params.HopSize
	numFrames := 1 + len(signal)/hop
	spectrogram := make([][]float64, numFrames)

	jobs := make(chan int, numFrames)
	var wg sync.WaitGroup

	numWorkers := max(1, min(runtime.NumCPU(), numFrames))
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			frame := make([]float64, cqt.fftSize)
			for frameIdx := range jobs {
				// Frame centred on frameIdx*hop, zero outside the signal
				start := frameIdx*hop - cqt.fftSize/2
				for i := range frame {
					pos := start + i
					if pos >= 0 && pos < len(signal) {
						frame[i] = signal[pos]
					} else {
						frame[i] = 0
					}
				}

				spectrum := cqt.fft.Compute(frame)

				cqtFrame := make([]float64, len(cqt.kernel))
				for k, kern := range cqt.kernel {
					var acc complex128
					for j, idx := range kern.index {
						acc += spectrum[idx] * kern.coef[j]
					}
					cqtFrame[k] = cmplx.Abs(acc)
				}
				spectrogram[frameIdx] = cqtFrame
			}
		}()
	}

	for frameIdx := range numFrames {
		jobs <- frameIdx
	}
	close(jobs)

	wg.Wait()

	cqt.logger.Debug("CQT spectrogram computed", logging.Fields{
		"frames":   numFrames,
		"bins":     len(cqt.kernel),
		"fft_size": cqt.fftSize,
	})

	return spectrogram, nil
}

func (cqt *ChromaCQT) ensureKernel() error {
	cqt.kernelOnce.Do(func() {
		cqt.kernelErr = cqt.computeCQTKernel()
	})
	return cqt.kernelErr
}

// computeCQTKernel pre-computes the sparse spectral kernels
func (cqt *ChromaCQT) computeCQTKernel() error {
	p := cqt.params
	if cqt.sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive: %d", cqt.sampleRate)
	}
	if p.MinFreq <= 0 || p.NumOctaves <= 0 || p.HopSize <= 0 {
		return fmt.Errorf("invalid CQT parameters: min_freq=%.2f octaves=%d hop=%d", p.MinFreq, p.NumOctaves, p.HopSize)
	}
	if p.BinsPerOctave <= 0 || p.BinsPerOctave%NumPitchClasses != 0 {
		return fmt.Errorf("bins per octave must be a positive multiple of %d: %d", NumPitchClasses, p.BinsPerOctave)
	}

	totalBins := p.NumOctaves * p.BinsPerOctave
	tuningRatio := p.TuningFreq / 440.0

	freqBins := make([]float64, totalBins)
	for k := range totalBins {
		freqBins[k] = p.MinFreq * tuningRatio * math.Pow(2.0, float64(k)/float64(p.BinsPerOctave))
	}

	nyquist := float64(cqt.sampleRate) / 2
	if top := freqBins[totalBins-1]; top >= nyquist {
		return fmt.Errorf("highest CQT bin %.1f Hz exceeds Nyquist %.1f Hz", top, nyquist)
	}

	q := 1.0 / (math.Pow(2.0, 1.0/float64(p.BinsPerOctave)) - 1.0)

	// The lowest frequency has the longest kernel
	fftSize := common.NextPowerOfTwo(cqt.kernelLength(q, freqBins[0]))

	kernel := make([]sparseKernel, totalBins)
	chromaMap := make([]int, totalBins)

	for k, freq := range freqBins {
		length := cqt.kernelLength(q, freq)
		hann := windowing.NewPeriodicHann(length)
		coeffs := hann.GetCoefficients()
		norm := hann.Sum()

		// Time-domain kernel centred in the FFT frame
		timeKernel := make([]complex128, fftSize)
		start := (fftSize - length) / 2
		center := length / 2
		for n := range length {
			t := float64(n - center)
			phase := 2.0 * math.Pi * freq * t / float64(cqt.sampleRate)
			timeKernel[start+n] = complex(coeffs[n]/norm, 0) * cmplx.Exp(complex(0, phase))
		}

		spectralKernel := cqt.fft.ComputeComplex(timeKernel)

		peak := 0.0
		for _, v := range spectralKernel {
			peak = math.Max(peak, cmplx.Abs(v))
		}
		threshold := p.Sparsity * peak

		var sk sparseKernel
		scale := complex(1.0/float64(fftSize), 0)
		for j, v := range spectralKernel {
			if cmplx.Abs(v) >= threshold {
				sk.index = append(sk.index, j)
				sk.coef = append(sk.coef, cmplx.Conj(v)*scale)
			}
		}
		kernel[k] = sk

		// Fold to the nearest semitone, relative to the tuning reference
		chromaMap[k] = PitchClassOf(freq, p.TuningFreq)
	}

	cqt.kernel = kernel
	cqt.freqBins = freqBins
	cqt.chromaMap = chromaMap
	cqt.fftSize = fftSize

	cqt.logger.Debug("CQT kernel computed", logging.Fields{
		"bins":     totalBins,
		"fft_size": fftSize,
		"q":        q,
		"max_freq": freqBins[totalBins-1],
	})

	return nil
}

// kernelLength calculates the window length for a bin centred at frequency
func (cqt *ChromaCQT) kernelLength(q, frequency float64) int {
	return max(1, int(math.Ceil(q*float64(cqt.sampleRate)/frequency)))
}

// convertCQTToChroma folds CQ magnitudes into 12 pitch classes per frame
func (cqt *ChromaCQT) convertCQTToChroma(cqtSpectrogram [][]float64) [][]float64 {
	chromagram := make([][]float64, len(cqtSpectrogram))

	for t, frame := range cqtSpectrogram {
		chromagram[t] = make([]float64, NumPitchClasses)
		for k, magnitude := range frame {
			chromagram[t][cqt.chromaMap[k]] += magnitude
		}

		normalizeChromaFrame(chromagram[t])
	}

	return chromagram
}

// normalizeChromaFrame scales a frame so its maximum is 1
func normalizeChromaFrame(chromaFrame []float64) {
	peak := common.Max(chromaFrame)
	if peak <= 0 {
		return
	}

	for i := range chromaFrame {
		chromaFrame[i] /= peak
	}
}

// GetCQTFrequencies returns the CQT bin centre frequencies
func (cqt *ChromaCQT) GetCQTFrequencies() ([]float64, error) {
	if err := cqt.ensureKernel(); err != nil {
		return nil, err
	}

	freqs := make([]float64, len(cqt.freqBins))
	copy(freqs, cqt.freqBins)
	return freqs, nil
}

// GetChromaMap returns the pitch class each CQ bin folds into
func (cqt *ChromaCQT) GetChromaMap() ([]int, error) {
	if err := cqt.ensureKernel(); err != nil {
		return nil, err
	}

	m := make([]int, len(cqt.chromaMap))
	copy(m, cqt.chromaMap)
	return m, nil
}
