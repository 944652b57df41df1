package transcode

import (
	"fmt"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-clave/algorithms/common"
)

// Decoder kinds accepted by NewDecoder
const (
	KindAuto   = "auto"
	KindFFmpeg = "ffmpeg"
	KindNative = "native"
)

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	TargetSampleRate int           `json:"target_sample_rate"`
	MaxDuration      time.Duration `json:"max_duration"`
	ResampleQuality  string        `json:"resample_quality"` // "fast", "medium", "high"
	FFmpegPath       string        `json:"ffmpeg_path"`      // Path to ffmpeg binary
	FFprobePath      string        `json:"ffprobe_path"`     // Path to ffprobe binary
	Timeout          time.Duration `json:"timeout"`          // Timeout for ffmpeg operations
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: DefaultSampleRate,
		MaxDuration:      DefaultMaxDuration,
		ResampleQuality:  "medium",
		FFmpegPath:       "ffmpeg",  // Assume in PATH
		FFprobePath:      "ffprobe", // Assume in PATH
		Timeout:          30 * time.Second,
	}
}

// resampleQuality maps the resample quality onto the native resampler's filter
func (c *DecoderConfig) resampleQuality() common.ResampleQuality {
	switch c.ResampleQuality {
	case "fast":
		return common.QualityFast
	case "high":
		return common.QualityHigh
	default:
		return common.QualityMedium
	}
}

// soxrPrecision maps the resample quality onto ffmpeg's soxr precision bits
func (c *DecoderConfig) soxrPrecision() int {
	switch c.ResampleQuality {
	case "fast":
		return 16
	case "high":
		return 28
	default:
		return 20
	}
}

// NewDecoder creates a decoder of the given kind
func NewDecoder(kind string, config *DecoderConfig) (Decoder, error) {
	if config == nil {
		config = DefaultDecoderConfig()
	}

	switch strings.ToLower(kind) {
	case "", KindAuto:
		return NewAutoDecoder(config), nil
	case KindFFmpeg:
		d := NewFFmpegDecoder(config)
		if err := d.ValidateConfig(); err != nil {
			return nil, err
		}
		return d, nil
	case KindNative, "wav":
		return NewWAVDecoder(config), nil
	default:
		return nil, fmt.Errorf("unknown decoder kind: %q", kind)
	}
}
