package keydetect

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/RyanBlaney/sonido-clave/algorithms/chroma"
	"github.com/RyanBlaney/sonido-clave/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-clave/algorithms/temporal"
	"github.com/RyanBlaney/sonido-clave/algorithms/tonal"
	"github.com/RyanBlaney/sonido-clave/config"
	"github.com/RyanBlaney/sonido-clave/logging"
	"github.com/RyanBlaney/sonido-clave/transcode"
)

// ChromaExtractor reduces a waveform to a 12-bin pitch-class energy vector
type ChromaExtractor interface {
	Extract(signal []float64) (chroma.ChromaVector, error)
	MinFrequency() float64
}

// ExtractorFactory builds a chroma extractor for a sample rate, a frequency
// floor and an A4 tuning reference
type ExtractorFactory func(sampleRate int, minFreq, tuningFreq float64) ChromaExtractor

// maxCachedExtractors bounds the extractor cache. Estimated tuning varies per
// clip, so without a bound every distinct reference would keep its kernels.
const maxCachedExtractors = 8

type extractorKey struct {
	sampleRate int
	minFreq    float64
	tuningFreq float64
}

// Estimator runs the key estimation pipeline:
// decode -> trim silence -> keep harmonic part -> estimate tuning -> chroma
// -> profile correlation.
//
// An Estimator holds no per-call state and is safe for concurrent use.
type Estimator struct {
	cfg        *config.Config
	decoder    transcode.Decoder
	trimmer    *temporal.SilenceTrimmer
	separator  *harmonic.HPSS
	correlator *tonal.KeyCorrelator

	newExtractor ExtractorFactory
	mu           sync.Mutex
	extractors   map[extractorKey]ChromaExtractor
	cacheOrder   []extractorKey // oldest first

	logger logging.Logger
}

// Option customises an Estimator
type Option func(*Estimator)

// WithExtractorFactory replaces the constant-Q chroma extractor
func WithExtractorFactory(factory ExtractorFactory) Option {
	return func(e *Estimator) {
		e.newExtractor = factory
	}
}

// NewEstimator creates an estimator. A nil cfg uses config.Default and a nil
// decoder is built from cfg's decoder section.
func NewEstimator(cfg *config.Config, decoder transcode.Decoder, opts ...Option) (*Estimator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if decoder == nil {
		var err error
		decoder, err = transcode.NewDecoder(cfg.Decoder.Kind, cfg.DecoderSettings())
		if err != nil {
			return nil, err
		}
	}

	profiles, err := tonal.ProfileSetByName(cfg.Analysis.Profile)
	if err != nil {
		return nil, err
	}

	a := cfg.Analysis
	hpssParams := harmonic.DefaultHPSSParams()
	hpssParams.WindowSize = a.FrameLength
	hpssParams.HopSize = a.HopLength
	hpssParams.KernelSize = a.HPSSKernel

	e := &Estimator{
		cfg:        cfg,
		decoder:    decoder,
		trimmer:    temporal.NewSilenceTrimmer(a.TopDB, a.FrameLength, a.HopLength),
		separator:  harmonic.NewHPSS(hpssParams),
		correlator: tonal.NewKeyCorrelator(profiles),
		extractors: make(map[extractorKey]ChromaExtractor),
		logger: logging.WithFields(logging.Fields{
			"component": "key_estimator",
		}),
	}
	e.newExtractor = e.cqtExtractor

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

func (e *Estimator) cqtExtractor(sampleRate int, minFreq, tuningFreq float64) ChromaExtractor {
	a := e.cfg.Analysis
	params := chroma.DefaultCQTParams(minFreq)
	params.NumOctaves = a.Octaves
	params.BinsPerOctave = a.BinsPerOctave
	params.HopSize = a.HopLength
	params.TuningFreq = tuningFreq
	return chroma.NewChromaCQT(sampleRate, params)
}

// extractor returns the cached extractor for a sample rate, floor and tuning.
// The least recently used entry is evicted once the cache is full.
func (e *Estimator) extractor(sampleRate int, minFreq, tuningFreq float64) ChromaExtractor {
	key := extractorKey{sampleRate: sampleRate, minFreq: minFreq, tuningFreq: tuningFreq}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ex, ok := e.extractors[key]; ok {
		e.touch(key)
		return ex
	}

	if len(e.cacheOrder) >= maxCachedExtractors {
		oldest := e.cacheOrder[0]
		e.cacheOrder = e.cacheOrder[1:]
		delete(e.extractors, oldest)
	}

	ex := e.newExtractor(sampleRate, minFreq, tuningFreq)
	e.extractors[key] = ex
	e.cacheOrder = append(e.cacheOrder, key)
	return ex
}

// touch moves key to the most recently used end. Callers hold e.mu.
func (e *Estimator) touch(key extractorKey) {
	if i := slices.Index(e.cacheOrder, key); i >= 0 {
		e.cacheOrder = append(slices.Delete(e.cacheOrder, i, i+1), key)
	}
}

// tuning returns the A4 reference to analyse the clip with
func (e *Estimator) tuning(sampleRate int, signal []float64) (float64, error) {
	a := e.cfg.Analysis
	if !a.EstimateTuning {
		return a.TuningFreq, nil
	}

	params := harmonic.DefaultTuningParams()
	params.WindowSize = a.FrameLength
	params.HopSize = a.HopLength
	params.BinsPerOctave = a.BinsPerOctave

	offset, err := harmonic.NewTuningEstimator(sampleRate, params).Estimate(signal)
	if err != nil {
		return 0, err
	}
	return harmonic.TuningFrequency(a.TuningFreq, offset, a.BinsPerOctave), nil
}

// DefaultFilter returns the filter settings from the configuration
func (e *Estimator) DefaultFilter() FilterConfig {
	return FilterConfig{SuppressLowEnd: e.cfg.Analysis.SuppressLowEnd}
}

// EstimateKey decodes src and estimates its key.
//
// A *transcode.DecodeError is returned when the source cannot be decoded.
// A nil estimate with a nil error means the clip was too short (or silent)
// to analyse.
func (e *Estimator) EstimateKey(ctx context.Context, src Source, filter FilterConfig) (*KeyEstimate, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}

	ctx = logging.ContextWithFields(ctx, logging.Fields{"source": src.label()})

	var (
		clip *transcode.AudioClip
		err  error
	)
	if src.Path != "" {
		clip, err = e.decoder.Decode(ctx, src.Path)
	} else {
		clip, err = e.decoder.DecodeReader(ctx, bytes.NewReader(src.Data))
	}
	if err != nil {
		return nil, err
	}

	return e.AnalyzeClip(ctx, clip, filter)
}

// AnalyzeClip estimates the key of an already decoded clip. It returns
// nil, nil when less than the configured minimum duration remains after
// silence trimming.
func (e *Estimator) AnalyzeClip(ctx context.Context, clip *transcode.AudioClip, filter FilterConfig) (*KeyEstimate, error) {
	if clip == nil || clip.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid audio clip")
	}

	logger := e.logger.WithContext(ctx)

	trimmed := e.trimmer.Trim(clip.Samples)
	minSamples := int(e.cfg.Analysis.MinClipDuration.Seconds() * float64(clip.SampleRate))

	if len(trimmed.Samples) < minSamples {
		logger.Info("Clip too short after trimming silence", logging.Fields{
			"function":        "AnalyzeClip",
			"input_samples":   len(clip.Samples),
			"trimmed_samples": len(trimmed.Samples),
			"min_samples":     minSamples,
		})
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	harmonicPart, err := e.separator.Harmonic(trimmed.Samples)
	if err != nil {
		return nil, fmt.Errorf("harmonic separation failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tuningFreq, err := e.tuning(clip.SampleRate, harmonicPart)
	if err != nil {
		return nil, fmt.Errorf("tuning estimation failed: %w", err)
	}

	minFreq := filter.MinFrequency()
	cv, err := e.extractor(clip.SampleRate, minFreq, tuningFreq).Extract(harmonicPart)
	if err != nil {
		return nil, fmt.Errorf("chroma extraction failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates, degenerate := e.correlator.Candidates(cv)
	best := tonal.SelectBest(candidates)
	est := newKeyEstimate(best, tonal.Rank(candidates), cv)

	logger.Debug("Key estimated", logging.Fields{
		"function":     "AnalyzeClip",
		"key":          est.Name(),
		"score":        est.Score,
		"certainty":    est.Certainty,
		"degenerate":   degenerate,
		"min_freq":     minFreq,
		"tuning_freq":  tuningFreq,
		"trim_start":   trimmed.Start,
		"trim_end":     trimmed.End,
		"clip_seconds": clip.Duration.Seconds(),
	})

	return est, nil
}
