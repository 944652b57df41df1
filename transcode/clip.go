package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RyanBlaney/sonido-clave/algorithms/common"
)

const (
	// DefaultSampleRate is the analysis sample rate every decoder targets
	DefaultSampleRate = 22050

	// DefaultMaxDuration caps how much of a source is analysed
	DefaultMaxDuration = 60 * time.Second
)

var (
	// ErrEmptyAudio is returned when a source decodes to zero samples
	ErrEmptyAudio = errors.New("no audio samples decoded")

	// ErrUnsupportedWAV marks a valid RIFF/WAVE file whose encoding the
	// native decoder does not handle (e.g. IEEE float or compressed data)
	ErrUnsupportedWAV = errors.New("unsupported WAV encoding")

	// ErrFFmpegUnavailable is returned when a source needs ffmpeg or ffprobe
	// and the configured executables cannot be found
	ErrFFmpegUnavailable = errors.New("ffmpeg not available")
)

// AudioClip is a mono waveform ready for analysis.
// Samples are within [-1, 1] and must not be modified after creation.
type AudioClip struct {
	Samples    []float64     `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	Source     string        `json:"source,omitempty"`
}

// NewAudioClip builds a clip from mono samples, clamping them to [-1, 1]
// and truncating to maxDuration when it is positive.
func NewAudioClip(samples []float64, sampleRate int, maxDuration time.Duration, source string) (*AudioClip, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive: %d", sampleRate)
	}

	if maxDuration > 0 {
		limit := int(maxDuration.Seconds() * float64(sampleRate))
		if len(samples) > limit {
			samples = samples[:limit]
		}
	}

	clamped := make([]float64, len(samples))
	for i, s := range samples {
		clamped[i] = common.Clamp(s, -1.0, 1.0)
	}

	return &AudioClip{
		Samples:    clamped,
		SampleRate: sampleRate,
		Duration:   time.Duration(len(clamped)) * time.Second / time.Duration(sampleRate),
		Source:     source,
	}, nil
}

// NumSamples returns the clip length in samples
func (c *AudioClip) NumSamples() int {
	return len(c.Samples)
}

// DecodeError reports that a source could not be turned into a waveform
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("failed to decode audio: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode audio %q: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(source string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Source: source, Err: err}
}

// Decoder turns an audio source into a mono AudioClip at the configured
// sample rate. Failures are returned as *DecodeError.
type Decoder interface {
	Decode(ctx context.Context, path string) (*AudioClip, error)
	DecodeReader(ctx context.Context, r io.Reader) (*AudioClip, error)
}
