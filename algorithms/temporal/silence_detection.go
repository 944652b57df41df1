package temporal

import (
	"github.com/RyanBlaney/sonido-clave/algorithms/common"
	"github.com/RyanBlaney/sonido-clave/logging"
)

const (
	// DefaultTopDB is the loudness floor below the peak frame that counts as silence
	DefaultTopDB = 25.0

	// DefaultTrimFrameLength and DefaultTrimHopLength set the loudness analysis grid
	DefaultTrimFrameLength = 2048
	DefaultTrimHopLength   = 512

	// amplitude floor (1e-5) squared, keeps the dB conversion finite
	powerFloor = 1e-10
)

// SilenceTrimmer strips leading and trailing near-silence from a signal
type SilenceTrimmer struct {
	envelopeExtractor *Envelope
	topDB             float64
	frameLength       int
	hopLength         int
	logger            logging.Logger
}

// TrimResult describes the retained region of the input signal
type TrimResult struct {
	Samples []float64 `json:"-"`
	Start   int       `json:"start"` // first retained sample (inclusive)
	End     int       `json:"end"`   // last retained sample (exclusive)
	PeakRMS float64   `json:"peak_rms"`
}

// NewSilenceTrimmer creates a trimmer with the given threshold in dB below peak
func NewSilenceTrimmer(topDB float64, frameLength, hopLength int) *SilenceTrimmer {
	if frameLength <= 0 {
		frameLength = DefaultTrimFrameLength
	}
	if hopLength <= 0 {
		hopLength = DefaultTrimHopLength
	}

	return &SilenceTrimmer{
		envelopeExtractor: NewEnvelope(),
		topDB:             topDB,
		frameLength:       frameLength,
		hopLength:         hopLength,
		logger: logging.WithFields(logging.Fields{
			"component": "silence_trimmer",
		}),
	}
}

// NewDefaultSilenceTrimmer creates a trimmer with a 25 dB threshold
func NewDefaultSilenceTrimmer() *SilenceTrimmer {
	return NewSilenceTrimmer(DefaultTopDB, DefaultTrimFrameLength, DefaultTrimHopLength)
}

// NonSilentFrames flags every centred analysis frame whose RMS level is
// within topDB of the loudest frame. When even the loudest frame sits at or
// below the 1e-5 amplitude floor every frame is silent.
func (st *SilenceTrimmer) NonSilentFrames(signal []float64) ([]bool, float64) {
	rms := st.envelopeExtractor.ComputeCenteredRMS(signal, st.frameLength, st.hopLength)
	if len(rms) == 0 {
		return []bool{}, 0
	}

	peak := common.Max(rms)
	refPower := peak * peak

	flags := make([]bool, len(rms))
	// Nothing rises above the amplitude floor: no frame is audible
	if refPower <= powerFloor {
		return flags, peak
	}
	for i, r := range rms {
		flags[i] = common.PowerToDB(r*r, refPower, powerFloor) > -st.topDB
	}

	return flags, peak
}

// Trim removes leading and trailing frames quieter than topDB below the
// peak. A signal that is silent throughout trims to an empty slice.
func (st *SilenceTrimmer) Trim(signal []float64) TrimResult {
	flags, peak := st.NonSilentFrames(signal)

	first, last := -1, -1
	for i, loud := range flags {
		if !loud {
			continue
		}
		if first == -1 {
			first = i
		}
		last = i
	}

	if first == -1 {
		st.logger.Debug("Signal is silent throughout", logging.Fields{
			"samples": len(signal),
		})
		return TrimResult{Samples: []float64{}, PeakRMS: peak}
	}

	start := first * st.hopLength
	end := min(len(signal), (last+1)*st.hopLength)
	if start > end {
		start = end
	}

	st.logger.Debug("Trimmed silence", logging.Fields{
		"input_samples": len(signal),
		"start":         start,
		"end":           end,
		"peak_rms":      peak,
	})

	trimmed := make([]float64, end-start)
	copy(trimmed, signal[start:end])

	return TrimResult{
		Samples: trimmed,
		Start:   start,
		End:     end,
		PeakRMS: peak,
	}
}
