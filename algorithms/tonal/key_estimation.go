package tonal

import (
	"fmt"
	"slices"
	"strings"

	"github.com/RyanBlaney/sonido-clave/algorithms/chroma"
	"github.com/RyanBlaney/sonido-clave/algorithms/stats"
	"github.com/RyanBlaney/sonido-clave/logging"
)

// Mode represents major or minor tonality
type Mode int

const (
	Major Mode = iota
	Minor
)

func (m Mode) String() string {
	switch m {
	case Major:
		return "Major"
	case Minor:
		return "Minor"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// PitchClass is a note name independent of octave (0=C, 1=C#, ..., 11=B)
type PitchClass int

const (
	C PitchClass = iota
	CSharp
	D
	DSharp
	E
	F
	FSharp
	G
	GSharp
	A
	ASharp
	B
)

func (pc PitchClass) String() string {
	if pc < 0 || int(pc) >= chroma.NumPitchClasses {
		return fmt.Sprintf("PitchClass(%d)", int(pc))
	}
	return chroma.PitchClassNames[pc]
}

// MarshalText encodes the pitch class by name
func (pc PitchClass) MarshalText() ([]byte, error) {
	return []byte(pc.String()), nil
}

// KeyProfile weights the 12 scale degrees relative to a tonic at index 0
type KeyProfile [chroma.NumPitchClasses]float64

// Rotate aligns index 0 of the profile with pitch class shift, so that
// rotated[j] = profile[(j - shift) mod 12].
func (p KeyProfile) Rotate(shift int) KeyProfile {
	var rotated KeyProfile
	n := chroma.NumPitchClasses
	for j := range n {
		rotated[j] = p[((j-shift)%n+n)%n]
	}
	return rotated
}

// ProfileSet pairs a major and a minor reference profile
type ProfileSet struct {
	Name        string
	Description string
	Major       KeyProfile
	Minor       KeyProfile
}

// Reference profiles. Treat as read-only.
var (
	// Temperley profiles (corpus-based)
	TemperleyProfiles = ProfileSet{
		Name:        "temperley",
		Description: "Statistical profiles from musical corpora",
		Major:       KeyProfile{5.0, 2.0, 3.5, 2.0, 4.5, 4.0, 2.0, 5.0, 2.0, 3.5, 1.5, 4.0},
		Minor:       KeyProfile{5.0, 2.0, 3.5, 4.5, 2.0, 4.0, 2.0, 5.0, 3.5, 2.0, 1.5, 4.0},
	}

	// Krumhansl-Schmuckler profiles (empirically derived)
	KrumhanslProfiles = ProfileSet{
		Name:        "krumhansl",
		Description: "Empirical profiles based on listener ratings",
		Major:       KeyProfile{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88},
		Minor:       KeyProfile{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17},
	}
)

// ProfileSetByName looks up a reference profile set, case-insensitively.
// An empty name selects the Temperley profiles.
func ProfileSetByName(name string) (ProfileSet, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TemperleyProfiles.Name:
		return TemperleyProfiles, nil
	case KrumhanslProfiles.Name:
		return KrumhanslProfiles, nil
	default:
		return ProfileSet{}, fmt.Errorf("unknown key profile: %q", name)
	}
}

// DegenerateScore is assigned to every candidate when the chroma vector
// carries no tonal information (zero variance).
const DegenerateScore = -1.0

// KeyCandidate is one (pitch class, mode) hypothesis with its correlation score
type KeyCandidate struct {
	PitchClass PitchClass `json:"pitch_class"`
	Mode       Mode       `json:"mode"`
	Score      float64    `json:"score"` // Pearson correlation in [-1, 1]
}

// Name returns the human readable key name, e.g. "C# Minor"
func (kc KeyCandidate) Name() string {
	return kc.PitchClass.String() + " " + kc.Mode.String()
}

// KeyCorrelator scores a chroma vector against all 24 rotated key profiles
type KeyCorrelator struct {
	profiles ProfileSet
	logger   logging.Logger
}

// NewKeyCorrelator creates a correlator using the given profile set
func NewKeyCorrelator(profiles ProfileSet) *KeyCorrelator {
	return &KeyCorrelator{
		profiles: profiles,
		logger: logging.WithFields(logging.Fields{
			"component": "key_correlator",
			"profile":   profiles.Name,
		}),
	}
}

// NewDefaultKeyCorrelator creates a correlator using the Temperley profiles
func NewDefaultKeyCorrelator() *KeyCorrelator {
	return NewKeyCorrelator(TemperleyProfiles)
}

// Candidates returns all 24 candidates in enumeration order
// (C Major, C Minor, C# Major, ..., B Minor). The boolean is true when the
// chroma vector was degenerate and every score was set to DegenerateScore.
func (kc *KeyCorrelator) Candidates(cv chroma.ChromaVector) ([]KeyCandidate, bool) {
	candidates := make([]KeyCandidate, 0, 2*chroma.NumPitchClasses)
	degenerate := cv.IsDegenerate()

	values := cv.Slice()
	for i := range chroma.NumPitchClasses {
		for _, mode := range []Mode{Major, Minor} {
			candidate := KeyCandidate{PitchClass: PitchClass(i), Mode: mode, Score: DegenerateScore}

			if !degenerate {
				profile := kc.profiles.Major
				if mode == Minor {
					profile = kc.profiles.Minor
				}
				rotated := profile.Rotate(i)

				score, ok := stats.PearsonCorrelation(values, rotated[:])
				if !ok {
					degenerate = true
				}
				candidate.Score = score
			}

			candidates = append(candidates, candidate)
		}
	}

	if degenerate {
		for i := range candidates {
			candidates[i].Score = DegenerateScore
		}

		kc.logger.Warn("Degenerate chroma input, correlation undefined", logging.Fields{
			"function": "Candidates",
			"chroma":   cv.String(),
			"energy":   cv.Energy(),
		})
	}

	return candidates, degenerate
}

// Estimate returns the best matching key for the chroma vector
func (kc *KeyCorrelator) Estimate(cv chroma.ChromaVector) KeyCandidate {
	candidates, _ := kc.Candidates(cv)
	best := SelectBest(candidates)

	kc.logger.Debug("Key estimated", logging.Fields{
		"function": "Estimate",
		"key":      best.Name(),
		"score":    best.Score,
	})

	return best
}

// SelectBest returns the highest scoring candidate. Ties resolve to the
// candidate encountered first. An empty slice yields the zero candidate.
func SelectBest(candidates []KeyCandidate) KeyCandidate {
	if len(candidates) == 0 {
		return KeyCandidate{}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}

// Rank returns a copy of candidates sorted by descending score,
// preserving input order among equal scores.
func Rank(candidates []KeyCandidate) []KeyCandidate {
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(a, b KeyCandidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return ranked
}
