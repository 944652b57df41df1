package spectral

import (
	"math"
	"math/cmplx"
	"testing"
)

func sine(freq float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
	}
	return out
}

func TestComputeInverseHalfRoundTrip(t *testing.T) {
	f := NewFFT()
	signal := []float64{0.5, -1, 0.25, 0.75, 0, -0.5, 1, 0.125}

	spectrum := f.Compute(signal)
	rebuilt := f.ComputeInverseHalf(spectrum[:len(signal)/2+1], len(signal))

	for i := range signal {
		if math.Abs(rebuilt[i]-signal[i]) > 1e-12 {
			t.Fatalf("sample %d = %v, want %v", i, rebuilt[i], signal[i])
		}
	}
}

func TestSTFTFrameCountAndPeak(t *testing.T) {
	const sampleRate = 22050
	signal := sine(1000, sampleRate, sampleRate)

	stft := NewSTFT(2048, 512)
	result, err := stft.Compute(signal)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if want := 1 + len(signal)/512; result.TimeFrames != want {
		t.Errorf("frames = %d, want %d", result.TimeFrames, want)
	}
	if result.FreqBins != 1025 {
		t.Errorf("freq bins = %d, want 1025", result.FreqBins)
	}

	// The 1 kHz tone lands in bin round(1000 * 2048 / 22050) = 93
	mid := result.Magnitude[result.TimeFrames/2]
	peak := 0
	for i := range mid {
		if mid[i] > mid[peak] {
			peak = i
		}
	}
	if peak != 93 {
		t.Errorf("peak bin = %d, want 93", peak)
	}
}

func TestSTFTInverseRoundTrip(t *testing.T) {
	const sampleRate = 22050
	signal := sine(440, sampleRate, 10000)
	for i := range signal {
		signal[i] += 0.3 * math.Sin(float64(i)*0.013)
	}

	stft := NewSTFT(1024, 256)
	result, err := stft.Compute(signal)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	rebuilt, err := stft.Inverse(result.Complex, len(signal))
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	if len(rebuilt) != len(signal) {
		t.Fatalf("length = %d, want %d", len(rebuilt), len(signal))
	}
	for i := range signal {
		if math.Abs(rebuilt[i]-signal[i]) > 1e-9 {
			t.Fatalf("sample %d = %v, want %v", i, rebuilt[i], signal[i])
		}
	}
}

func TestSTFTRejectsBadInput(t *testing.T) {
	if _, err := NewSTFT(1024, 256).Compute(nil); err == nil {
		t.Error("expected error for empty signal")
	}
	if _, err := NewSTFT(1024, 0).Compute([]float64{1, 2, 3}); err == nil {
		t.Error("expected error for zero hop")
	}

	bad := [][]complex128{make([]complex128, 10)}
	if _, err := NewSTFT(1024, 256).Inverse(bad, 100); err == nil {
		t.Error("expected error for wrong bin count")
	}
}

func TestSTFTShortSignal(t *testing.T) {
	result, err := NewSTFT(2048, 512).Compute([]float64{1, 0, -1})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if result.TimeFrames != 1 {
		t.Errorf("frames = %d, want 1", result.TimeFrames)
	}
	if got := cmplx.Abs(result.Complex[0][5]); math.Abs(got-result.Magnitude[0][5]) > 1e-12 {
		t.Errorf("magnitude %v inconsistent with complex spectrum %v", result.Magnitude[0][5], got)
	}
}
