package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-clave/algorithms/tonal"
	"github.com/RyanBlaney/sonido-clave/logging"
	"github.com/RyanBlaney/sonido-clave/transcode"
)

// EnvPrefix prefixes every environment override, e.g. SONIDO_ANALYSIS_TOP_DB
const EnvPrefix = "SONIDO"

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the effective settings of the analyzer
type Config struct {
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
	Decoder  DecoderConfig `mapstructure:"decoder" yaml:"decoder"`
	Analysis Analysis      `mapstructure:"analysis" yaml:"analysis"`
}

// DecoderConfig selects and tunes the audio decoder
type DecoderConfig struct {
	Kind            string        `mapstructure:"kind" yaml:"kind"` // auto, ffmpeg, native
	SampleRate      int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	MaxDuration     time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	ResampleQuality string        `mapstructure:"resample_quality" yaml:"resample_quality"`
	FFmpegPath      string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath     string        `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Analysis holds the key estimation parameters
type Analysis struct {
	MinClipDuration time.Duration `mapstructure:"min_clip_duration" yaml:"min_clip_duration"`
	TopDB           float64       `mapstructure:"top_db" yaml:"top_db"`
	FrameLength     int           `mapstructure:"frame_length" yaml:"frame_length"`
	HopLength       int           `mapstructure:"hop_length" yaml:"hop_length"`
	HPSSKernel      int           `mapstructure:"hpss_kernel" yaml:"hpss_kernel"`
	Octaves         int           `mapstructure:"octaves" yaml:"octaves"`
	BinsPerOctave   int           `mapstructure:"bins_per_octave" yaml:"bins_per_octave"`
	TuningFreq      float64       `mapstructure:"tuning_freq" yaml:"tuning_freq"`
	EstimateTuning  bool          `mapstructure:"estimate_tuning" yaml:"estimate_tuning"`
	Profile         string        `mapstructure:"profile" yaml:"profile"`
	SuppressLowEnd  bool          `mapstructure:"suppress_low_end" yaml:"suppress_low_end"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Decoder: DecoderConfig{
			Kind:            transcode.KindAuto,
			SampleRate:      transcode.DefaultSampleRate,
			MaxDuration:     transcode.DefaultMaxDuration,
			ResampleQuality: "medium",
			FFmpegPath:      "ffmpeg",
			FFprobePath:     "ffprobe",
			Timeout:         30 * time.Second,
		},
		Analysis: Analysis{
			MinClipDuration: time.Second,
			TopDB:           25,
			FrameLength:     2048,
			HopLength:       512,
			HPSSKernel:      31,
			Octaves:         5,
			BinsPerOctave:   36,
			TuningFreq:      440,
			EstimateTuning:  true,
			Profile:         tonal.TemperleyProfiles.Name,
			SuppressLowEnd:  false,
		},
	}
}

// Load reads the configuration from defaults, the optional YAML file at path,
// and SONIDO_* environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Debug("Configuration loaded", logging.Fields{
		"component":   "config",
		"config_file": v.ConfigFileUsed(),
		"decoder":     cfg.Decoder.Kind,
		"profile":     cfg.Analysis.Profile,
	})

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it on Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("decoder.kind", d.Decoder.Kind)
	v.SetDefault("decoder.sample_rate", d.Decoder.SampleRate)
	v.SetDefault("decoder.max_duration", d.Decoder.MaxDuration)
	v.SetDefault("decoder.resample_quality", d.Decoder.ResampleQuality)
	v.SetDefault("decoder.ffmpeg_path", d.Decoder.FFmpegPath)
	v.SetDefault("decoder.ffprobe_path", d.Decoder.FFprobePath)
	v.SetDefault("decoder.timeout", d.Decoder.Timeout)

	v.SetDefault("analysis.min_clip_duration", d.Analysis.MinClipDuration)
	v.SetDefault("analysis.top_db", d.Analysis.TopDB)
	v.SetDefault("analysis.frame_length", d.Analysis.FrameLength)
	v.SetDefault("analysis.hop_length", d.Analysis.HopLength)
	v.SetDefault("analysis.hpss_kernel", d.Analysis.HPSSKernel)
	v.SetDefault("analysis.octaves", d.Analysis.Octaves)
	v.SetDefault("analysis.bins_per_octave", d.Analysis.BinsPerOctave)
	v.SetDefault("analysis.tuning_freq", d.Analysis.TuningFreq)
	v.SetDefault("analysis.estimate_tuning", d.Analysis.EstimateTuning)
	v.SetDefault("analysis.profile", d.Analysis.Profile)
	v.SetDefault("analysis.suppress_low_end", d.Analysis.SuppressLowEnd)
}

// Validate rejects settings the analyzer cannot run with
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, err := logging.ParseLevel(c.LogLevel)
	check(err == nil, "log_level: unknown level %q", c.LogLevel)

	_, err = transcode.NewDecoder(c.Decoder.Kind, nil)
	check(err == nil, "decoder.kind: unknown kind %q", c.Decoder.Kind)
	check(c.Decoder.SampleRate > 0, "decoder.sample_rate must be positive: %d", c.Decoder.SampleRate)
	check(c.Decoder.MaxDuration >= 0, "decoder.max_duration must not be negative: %v", c.Decoder.MaxDuration)
	check(c.Decoder.Timeout > 0, "decoder.timeout must be positive: %v", c.Decoder.Timeout)
	switch c.Decoder.ResampleQuality {
	case "fast", "medium", "high":
	default:
		check(false, "decoder.resample_quality must be fast, medium or high: %q", c.Decoder.ResampleQuality)
	}

	a := c.Analysis
	check(a.MinClipDuration > 0, "analysis.min_clip_duration must be positive: %v", a.MinClipDuration)
	check(a.TopDB > 0, "analysis.top_db must be positive: %v", a.TopDB)
	check(a.FrameLength > 0, "analysis.frame_length must be positive: %d", a.FrameLength)
	check(a.HopLength > 0 && a.HopLength <= a.FrameLength, "analysis.hop_length must be in (0, frame_length]: %d", a.HopLength)
	check(a.HPSSKernel > 0 && a.HPSSKernel%2 == 1, "analysis.hpss_kernel must be a positive odd number: %d", a.HPSSKernel)
	check(a.Octaves > 0, "analysis.octaves must be positive: %d", a.Octaves)
	check(a.BinsPerOctave > 0 && a.BinsPerOctave%12 == 0, "analysis.bins_per_octave must be a positive multiple of 12: %d", a.BinsPerOctave)
	check(a.TuningFreq > 0, "analysis.tuning_freq must be positive: %v", a.TuningFreq)
	_, err = tonal.ProfileSetByName(a.Profile)
	check(err == nil, "analysis.profile: unknown profile %q", a.Profile)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// DecoderSettings converts the decoder section for the transcode package
func (c *Config) DecoderSettings() *transcode.DecoderConfig {
	return &transcode.DecoderConfig{
		TargetSampleRate: c.Decoder.SampleRate,
		MaxDuration:      c.Decoder.MaxDuration,
		ResampleQuality:  c.Decoder.ResampleQuality,
		FFmpegPath:       c.Decoder.FFmpegPath,
		FFprobePath:      c.Decoder.FFprobePath,
		Timeout:          c.Decoder.Timeout,
	}
}

// Dump renders the configuration as YAML
func (c *Config) Dump() ([]byte, error) {
	// yaml.v3 writes durations as integers; mirror them as strings
	type decoderOut struct {
		Kind            string `yaml:"kind"`
		SampleRate      int    `yaml:"sample_rate"`
		MaxDuration     string `yaml:"max_duration"`
		ResampleQuality string `yaml:"resample_quality"`
		FFmpegPath      string `yaml:"ffmpeg_path"`
		FFprobePath     string `yaml:"ffprobe_path"`
		Timeout         string `yaml:"timeout"`
	}
	type analysisOut struct {
		MinClipDuration string  `yaml:"min_clip_duration"`
		TopDB           float64 `yaml:"top_db"`
		FrameLength     int     `yaml:"frame_length"`
		HopLength       int     `yaml:"hop_length"`
		HPSSKernel      int     `yaml:"hpss_kernel"`
		Octaves         int     `yaml:"octaves"`
		BinsPerOctave   int     `yaml:"bins_per_octave"`
		TuningFreq      float64 `yaml:"tuning_freq"`
		EstimateTuning  bool    `yaml:"estimate_tuning"`
		Profile         string  `yaml:"profile"`
		SuppressLowEnd  bool    `yaml:"suppress_low_end"`
	}

	d, a := c.Decoder, c.Analysis
	out := struct {
		LogLevel string      `yaml:"log_level"`
		Decoder  decoderOut  `yaml:"decoder"`
		Analysis analysisOut `yaml:"analysis"`
	}{
		LogLevel: c.LogLevel,
		Decoder: decoderOut{
			Kind:            d.Kind,
			SampleRate:      d.SampleRate,
			MaxDuration:     d.MaxDuration.String(),
			ResampleQuality: d.ResampleQuality,
			FFmpegPath:      d.FFmpegPath,
			FFprobePath:     d.FFprobePath,
			Timeout:         d.Timeout.String(),
		},
		Analysis: analysisOut{
			MinClipDuration: a.MinClipDuration.String(),
			TopDB:           a.TopDB,
			FrameLength:     a.FrameLength,
			HopLength:       a.HopLength,
			HPSSKernel:      a.HPSSKernel,
			Octaves:         a.Octaves,
			BinsPerOctave:   a.BinsPerOctave,
			TuningFreq:      a.TuningFreq,
			EstimateTuning:  a.EstimateTuning,
			Profile:         a.Profile,
			SuppressLowEnd:  a.SuppressLowEnd,
		},
	}

	return yaml.Marshal(out)
}
