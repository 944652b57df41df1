package keydetect

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-clave/algorithms/chroma"
	"github.com/RyanBlaney/sonido-clave/algorithms/tonal"
)

// HighConfidenceThreshold is the score an estimate must exceed (strictly)
// to be reported as high confidence.
const HighConfidenceThreshold = 0.5

// maxRunners is how many runner-up keys an estimate carries
const maxRunners = 3

// KeyEstimate is the outcome of a successful analysis
type KeyEstimate struct {
	PitchClass tonal.PitchClass     `json:"pitch_class"`
	Mode       tonal.Mode           `json:"mode"`
	Score      float64              `json:"score"`     // Pearson correlation in [-1, 1]
	Certainty  int                  `json:"certainty"` // round(score * 100)
	Runners    []tonal.KeyCandidate `json:"runners,omitempty"`
	Chroma     chroma.ChromaVector  `json:"chroma"`
}

// newKeyEstimate maps the winning candidate and the ranked list onto an estimate
func newKeyEstimate(best tonal.KeyCandidate, ranked []tonal.KeyCandidate, cv chroma.ChromaVector) *KeyEstimate {
	est := &KeyEstimate{
		PitchClass: best.PitchClass,
		Mode:       best.Mode,
		Score:      best.Score,
		Certainty:  CertaintyFromScore(best.Score),
		Chroma:     cv,
	}

	for _, c := range ranked {
		if len(est.Runners) == maxRunners {
			break
		}
		if c.PitchClass == best.PitchClass && c.Mode == best.Mode {
			continue
		}
		est.Runners = append(est.Runners, c)
	}

	return est
}

// CertaintyFromScore converts a correlation score to a whole percentage
func CertaintyFromScore(score float64) int {
	return int(math.Round(score * 100))
}

// Name returns the key name, e.g. "C# Minor"
func (e *KeyEstimate) Name() string {
	return e.PitchClass.String() + " " + e.Mode.String()
}

// IsHighConfidence reports whether the score is above HighConfidenceThreshold
func (e *KeyEstimate) IsHighConfidence() bool {
	return e.Score > HighConfidenceThreshold
}

// Camelot returns the key's position on the Camelot wheel used for harmonic
// mixing, e.g. "8B" for C Major and "8A" for A Minor.
func (e *KeyEstimate) Camelot() string {
	pc := int(e.PitchClass)
	letter := "B"
	if e.Mode == tonal.Minor {
		// Minor keys share a number with their relative major
		pc = (pc + 3) % chroma.NumPitchClasses
		letter = "A"
	}

	// Adjacent numbers are a fifth apart, C Major sits at 8
	number := (pc*7%12+7)%12 + 1
	return fmt.Sprintf("%d%s", number, letter)
}

func (e *KeyEstimate) String() string {
	return fmt.Sprintf("%s (%d%%)", e.Name(), e.Certainty)
}
