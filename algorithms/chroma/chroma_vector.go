package chroma

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-clave/algorithms/common"
)

// NumPitchClasses is the number of chroma bins (one per semitone)
const NumPitchClasses = 12

// Reference frequencies for the chroma low-frequency cutoff
const (
	FreqC2 = 65.40639132514966  // MIDI 36, default floor
	FreqC3 = 130.81278265029931 // MIDI 48, floor in suppress-low-end mode
)

// PitchClassNames lists the pitch classes in chroma bin order, starting at C
var PitchClassNames = [NumPitchClasses]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// ChromaVector holds one non-negative energy value per pitch class,
// index 0 = C ascending by semitone to index 11 = B.
type ChromaVector [NumPitchClasses]float64

// Slice returns a copy of the vector as a slice
func (cv ChromaVector) Slice() []float64 {
	out := make([]float64, NumPitchClasses)
	copy(out, cv[:])
	return out
}

// Energy returns the total energy across all pitch classes
func (cv ChromaVector) Energy() float64 {
	return common.Sum(cv[:])
}

// IsDegenerate reports whether the vector has zero variance (all values equal,
// including all-zero), for which correlation is undefined.
func (cv ChromaVector) IsDegenerate() bool {
	return common.IsConstant(cv[:])
}

// Dominant returns the index of the strongest pitch class (first on ties)
func (cv ChromaVector) Dominant() int {
	best := 0
	for i := 1; i < NumPitchClasses; i++ {
		if cv[i] > cv[best] {
			best = i
		}
	}
	return best
}

func (cv ChromaVector) String() string {
	return fmt.Sprintf("%.3f", [NumPitchClasses]float64(cv))
}

// SumOverTime collapses a time x pitch-class chromagram into a single vector
// by summing each pitch class across all frames.
func SumOverTime(chromagram [][]float64) (ChromaVector, error) {
	var cv ChromaVector
	for t, frame := range chromagram {
		if len(frame) != NumPitchClasses {
			return cv, fmt.Errorf("chroma frame %d has %d bins, expected %d", t, len(frame), NumPitchClasses)
		}
		for pc := range NumPitchClasses {
			cv[pc] += frame[pc]
		}
	}
	return cv, nil
}

// MIDIToHz converts a (fractional) MIDI note number to frequency
func MIDIToHz(midi, tuningFreq float64) float64 {
	return tuningFreq * math.Pow(2.0, (midi-69.0)/12.0)
}

// HzToMIDI converts frequency to a fractional MIDI note number
func HzToMIDI(frequency, tuningFreq float64) float64 {
	if frequency <= 0 {
		return 0
	}

	// MIDI note number: 69 + 12 * log2(f/440)
	return 69.0 + 12.0*math.Log2(frequency/tuningFreq)
}

// PitchClassOf returns the pitch class (0=C) nearest to frequency
func PitchClassOf(frequency, tuningFreq float64) int {
	pc := int(math.Round(HzToMIDI(frequency, tuningFreq))) % NumPitchClasses
	if pc < 0 {
		pc += NumPitchClasses
	}
	return pc
}
