package harmonic

import (
	"math"
	"testing"
)

const testRate = 22050

func TestSoftMask(t *testing.T) {
	if got := softMask(0, 0, 2); got != 0 {
		t.Errorf("softMask(0, 0) = %v, want 0", got)
	}
	if got := softMask(3, 4, 2); math.Abs(got-9.0/25.0) > 1e-15 {
		t.Errorf("softMask(3, 4) = %v, want 0.36", got)
	}
	if got := softMask(3, 4, 2) + softMask(4, 3, 2); math.Abs(got-1) > 1e-15 {
		t.Errorf("complementary masks sum to %v, want 1", got)
	}
}

func TestMedianFilters(t *testing.T) {
	// A single spike is removed by both filters
	mag := [][]float64{
		{1, 1, 1},
		{1, 9, 1},
		{1, 1, 1},
	}

	timeFiltered := medianFilterTime(mag, 3)
	if timeFiltered[1][1] != 1 {
		t.Errorf("time median at spike = %v, want 1", timeFiltered[1][1])
	}

	freqFiltered := medianFilterFrequency(mag, 3)
	if freqFiltered[1][1] != 1 {
		t.Errorf("frequency median at spike = %v, want 1", freqFiltered[1][1])
	}

	// A sustained horizontal line survives the time median only
	line := [][]float64{
		{0, 5, 0},
		{0, 5, 0},
		{0, 5, 0},
	}
	if got := medianFilterTime(line, 3)[1][1]; got != 5 {
		t.Errorf("time median on sustained line = %v, want 5", got)
	}
	if got := medianFilterFrequency(line, 3)[1][1]; got != 0 {
		t.Errorf("frequency median on sustained line = %v, want 0", got)
	}
}

func toneWithClicks(n int) (tone, clicks []float64) {
	tone = make([]float64, n)
	clicks = make([]float64, n)
	for i := range tone {
		tone[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/testRate)
	}
	for pos := int(0.3 * testRate); pos < n-testRate/4; pos += testRate / 4 {
		clicks[pos] = 1.0
	}
	return tone, clicks
}

func TestSeparateComponentsSumToInput(t *testing.T) {
	tone, clicks := toneWithClicks(testRate)
	signal := make([]float64, len(tone))
	for i := range signal {
		signal[i] = tone[i] + clicks[i]
	}

	result, err := NewDefaultHPSS().Separate(signal)
	if err != nil {
		t.Fatalf("Separate: %v", err)
	}

	if len(result.Harmonic) != len(signal) || len(result.Percussive) != len(signal) {
		t.Fatalf("component lengths %d/%d, want %d", len(result.Harmonic), len(result.Percussive), len(signal))
	}

	for i := range signal {
		if sum := result.Harmonic[i] + result.Percussive[i]; math.Abs(sum-signal[i]) > 1e-9 {
			t.Fatalf("sample %d: harmonic+percussive = %v, want %v", i, sum, signal[i])
		}
	}
}

func TestHarmonicSuppressesClicks(t *testing.T) {
	n := 2 * testRate
	tone, clicks := toneWithClicks(n)
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = tone[i] + clicks[i]
	}

	harmonic, err := NewDefaultHPSS().Harmonic(signal)
	if err != nil {
		t.Fatalf("Harmonic: %v", err)
	}

	// Compare away from the edges, where the tone's onset and offset are transient
	lo, hi := testRate/4, n-testRate/4
	var residual, clickEnergy, toneEnergy, harmonicToneDot float64
	for i := lo; i < hi; i++ {
		d := harmonic[i] - tone[i]
		residual += d * d
		clickEnergy += clicks[i] * clicks[i]
		toneEnergy += tone[i] * tone[i]
		harmonicToneDot += harmonic[i] * tone[i]
	}

	if clickEnergy == 0 {
		t.Fatal("test signal has no clicks in the compared region")
	}
	if residual > 0.25*clickEnergy {
		t.Errorf("residual energy %v not well below click energy %v", residual, clickEnergy)
	}
	if ratio := harmonicToneDot / toneEnergy; ratio < 0.95 {
		t.Errorf("harmonic keeps only %.3f of the tone", ratio)
	}
}
