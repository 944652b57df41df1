package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT provides Fast Fourier Transform functionality backed by mjibson/go-dsp
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the forward transform of a real signal.
// The full (two-sided) spectrum is returned.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	// go-dsp handles all sizes, including non-power-of-2
	return fft.FFTReal(x)
}

// ComputeComplex computes the forward transform of a complex signal
func (f *FFT) ComputeComplex(x []complex128) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	return fft.FFT(x)
}

// ComputeInverseReal computes inverse FFT and returns real part only
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	result := fft.IFFT(x)
	realResult := make([]float64, len(result))

	for i, val := range result {
		realResult[i] = real(val)
	}

	return realResult
}

// ComputeInverseHalf rebuilds an n-point real signal from the non-negative
// half of its spectrum (n/2+1 bins) using Hermitian symmetry.
func (f *FFT) ComputeInverseHalf(half []complex128, n int) []float64 {
	if len(half) == 0 || n <= 0 {
		return []float64{}
	}

	full := make([]complex128, n)
	copy(full, half)
	for k := 1; k < len(half); k++ {
		if mirror := n - k; mirror >= len(half) && mirror < n {
			full[mirror] = cmplx.Conj(half[k])
		}
	}

	return f.ComputeInverseReal(full)
}
