package keydetect

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/sonido-clave/algorithms/chroma"
	"github.com/RyanBlaney/sonido-clave/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-clave/algorithms/tonal"
	"github.com/RyanBlaney/sonido-clave/logging"
	"github.com/RyanBlaney/sonido-clave/transcode"
)

const sampleRate = transcode.DefaultSampleRate

func init() {
	logging.SetGlobalLogger(nil)
}

// spyExtractor records the floors it was built for and whether it ran
type spyExtractor struct {
	mu      sync.Mutex
	floors  []float64
	extract int
}

func (s *spyExtractor) factory(next ExtractorFactory) ExtractorFactory {
	return func(rate int, minFreq, tuningFreq float64) ChromaExtractor {
		s.mu.Lock()
		s.floors = append(s.floors, minFreq)
		s.mu.Unlock()

		var inner ChromaExtractor
		if next != nil {
			inner = next(rate, minFreq, tuningFreq)
		}
		return &spyRun{spy: s, inner: inner, minFreq: minFreq}
	}
}

type spyRun struct {
	spy     *spyExtractor
	inner   ChromaExtractor
	minFreq float64
}

func (r *spyRun) Extract(signal []float64) (chroma.ChromaVector, error) {
	r.spy.mu.Lock()
	r.spy.extract++
	r.spy.mu.Unlock()

	if r.inner == nil {
		return chroma.ChromaVector(tonal.TemperleyProfiles.Major), nil
	}
	return r.inner.Extract(signal)
}

func (r *spyRun) MinFrequency() float64 { return r.minFreq }

func cqtFactory(rate int, minFreq, tuningFreq float64) ChromaExtractor {
	params := chroma.DefaultCQTParams(minFreq)
	params.TuningFreq = tuningFreq
	return chroma.NewChromaCQT(rate, params)
}

// cMajorTexture mixes one sustained tone per pitch class of octave 4,
// weighted by the C major profile, with an optional C2 bass note.
func cMajorTexture(seconds float64, bass float64) []float64 {
	n := int(seconds * sampleRate)
	out := make([]float64, n)
	for pc, w := range tonal.TemperleyProfiles.Major {
		freq := chroma.MIDIToHz(float64(60+pc), 440)
		for i := range out {
			out[i] += 0.02 * w * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
		}
	}
	if bass > 0 {
		for i := range out {
			out[i] += bass * math.Sin(2*math.Pi*chroma.FreqC2*float64(i)/sampleRate)
		}
	}
	return out
}

func newClip(t *testing.T, samples []float64) *transcode.AudioClip {
	t.Helper()
	clip, err := transcode.NewAudioClip(samples, sampleRate, transcode.DefaultMaxDuration, "test")
	if err != nil {
		t.Fatal(err)
	}
	return clip
}

func TestShortClipGate(t *testing.T) {
	tone := make([]float64, sampleRate/2)
	for i := range tone {
		tone[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/sampleRate)
	}
	padded := append(append(make([]float64, sampleRate), tone...), make([]float64, sampleRate)...)

	tests := []struct {
		name    string
		samples []float64
	}{
		{"half second between silence", padded},
		{"all silent", make([]float64, 3*sampleRate)},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyExtractor{}
			est, err := NewEstimator(nil, nil, WithExtractorFactory(spy.factory(nil)))
			if err != nil {
				t.Fatal(err)
			}

			got, err := est.AnalyzeClip(context.Background(), newClip(t, tt.samples), FilterConfig{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != nil {
				t.Errorf("expected no result, got %s", got)
			}
			if spy.extract != 0 || len(spy.floors) != 0 {
				t.Errorf("chroma extractor used %d times for a rejected clip", spy.extract)
			}
		})
	}
}

func TestSilentClipRejectedByDefaultExtractor(t *testing.T) {
	hiss := make([]float64, 3*sampleRate)
	for i := range hiss {
		hiss[i] = 1e-6 * math.Sin(2*math.Pi*440*float64(i)/sampleRate)
	}

	tests := []struct {
		name    string
		samples []float64
	}{
		{"digital silence", make([]float64, 3*sampleRate)},
		{"below amplitude floor", hiss},
	}

	est, err := NewEstimator(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := est.AnalyzeClip(context.Background(), newClip(t, tt.samples), FilterConfig{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != nil {
				t.Errorf("expected no result, got %s", got)
			}
		})
	}

	if len(est.extractors) != 0 {
		t.Errorf("%d extractors built for silent clips", len(est.extractors))
	}
}

func TestExtractorCacheIsBounded(t *testing.T) {
	spy := &spyExtractor{}
	est, err := NewEstimator(nil, nil, WithExtractorFactory(spy.factory(nil)))
	if err != nil {
		t.Fatal(err)
	}

	// One reference per 0.01-bin tuning cell
	for i := range 50 {
		tuning := harmonic.TuningFrequency(440, -0.25+0.01*float64(i), 36)
		est.extractor(sampleRate, chroma.FreqC2, tuning)
	}

	if len(est.extractors) != maxCachedExtractors || len(est.cacheOrder) != maxCachedExtractors {
		t.Errorf("cache holds %d extractors (%d ordered), want %d",
			len(est.extractors), len(est.cacheOrder), maxCachedExtractors)
	}
	if len(spy.floors) != 50 {
		t.Errorf("built %d extractors, want 50", len(spy.floors))
	}

	// A recently used entry survives further inserts
	recent := est.cacheOrder[0]
	est.extractor(recent.sampleRate, recent.minFreq, recent.tuningFreq)
	est.extractor(sampleRate, chroma.FreqC3, 440)
	if _, ok := est.extractors[recent]; !ok {
		t.Error("recently used extractor was evicted")
	}
	if len(spy.floors) != 51 {
		t.Errorf("built %d extractors, want 51", len(spy.floors))
	}
}

func TestFrequencyFloorIsThreaded(t *testing.T) {
	spy := &spyExtractor{}
	est, err := NewEstimator(nil, nil, WithExtractorFactory(spy.factory(nil)))
	if err != nil {
		t.Fatal(err)
	}

	clip := newClip(t, cMajorTexture(2, 0))
	for _, filter := range []FilterConfig{{SuppressLowEnd: false}, {SuppressLowEnd: true}, {SuppressLowEnd: true}} {
		if _, err := est.AnalyzeClip(context.Background(), clip, filter); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Extractors are cached per floor
	if len(spy.floors) != 2 || spy.floors[0] != chroma.FreqC2 || spy.floors[1] != chroma.FreqC3 {
		t.Errorf("extractors built for floors %v, want [C2 C3]", spy.floors)
	}
	if spy.extract != 3 {
		t.Errorf("extract ran %d times, want 3", spy.extract)
	}
}

func TestFrequencyFloorKeepsWinner(t *testing.T) {
	est, err := NewEstimator(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	clip := newClip(t, cMajorTexture(3, 0.1))

	low, err := est.AnalyzeClip(context.Background(), clip, FilterConfig{})
	if err != nil || low == nil {
		t.Fatalf("analysis with C2 floor failed: %v", err)
	}
	high, err := est.AnalyzeClip(context.Background(), clip, FilterConfig{SuppressLowEnd: true})
	if err != nil || high == nil {
		t.Fatalf("analysis with C3 floor failed: %v", err)
	}

	if low.Name() != "C Major" || high.Name() != "C Major" {
		t.Errorf("winners %s (C2 floor) and %s (C3 floor), want C Major for both", low.Name(), high.Name())
	}
	if !high.IsHighConfidence() {
		t.Errorf("expected high confidence for a profile-shaped texture, got %v", high.Score)
	}
}

func TestAnalyzeClipDeterministic(t *testing.T) {
	est, err := NewEstimator(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	clip := newClip(t, cMajorTexture(2, 0))
	first, err := est.AnalyzeClip(context.Background(), clip, FilterConfig{})
	if err != nil || first == nil {
		t.Fatalf("first run failed: %v", err)
	}

	second, err := est.AnalyzeClip(context.Background(), clip, FilterConfig{})
	if err != nil || second == nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.Name() != second.Name() || first.Score != second.Score || first.Chroma != second.Chroma {
		t.Errorf("runs differ: %s %v vs %s %v", first.Name(), first.Score, second.Name(), second.Score)
	}
}

func TestAnalyzeClipCancelled(t *testing.T) {
	spy := &spyExtractor{}
	est, err := NewEstimator(nil, nil, WithExtractorFactory(spy.factory(nil)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = est.AnalyzeClip(ctx, newClip(t, cMajorTexture(2, 0)), FilterConfig{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if spy.extract != 0 {
		t.Error("extraction ran after cancellation")
	}
}

func writeWAV(t *testing.T, path string, samples []float64) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(s * 32767))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEstimateKeySources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "texture.wav")
	writeWAV(t, path, cMajorTexture(2, 0))

	spy := &spyExtractor{}
	est, err := NewEstimator(nil, nil, WithExtractorFactory(spy.factory(cqtFactory)))
	if err != nil {
		t.Fatal(err)
	}

	fromFile, err := est.EstimateKey(context.Background(), FileSource(path), FilterConfig{})
	if err != nil || fromFile == nil {
		t.Fatalf("file source failed: %v", err)
	}
	if fromFile.Name() != "C Major" {
		t.Errorf("file source estimated %s, want C Major", fromFile.Name())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	fromBuffer, err := est.EstimateKey(context.Background(), BufferSource("upload", data), FilterConfig{})
	if err != nil || fromBuffer == nil {
		t.Fatalf("buffer source failed: %v", err)
	}
	if fromBuffer.Name() != fromFile.Name() || fromBuffer.Score != fromFile.Score {
		t.Errorf("buffer source %s %v differs from file source %s %v",
			fromBuffer.Name(), fromBuffer.Score, fromFile.Name(), fromFile.Score)
	}
}

func TestEstimateKeyErrors(t *testing.T) {
	est, err := NewEstimator(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := est.EstimateKey(context.Background(), Source{}, FilterConfig{}); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(garbage, []byte("RIFF but not really"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = est.EstimateKey(context.Background(), FileSource(garbage), FilterConfig{})
	var de *transcode.DecodeError
	if !errors.As(err, &de) {
		t.Errorf("expected *transcode.DecodeError, got %v", err)
	}
}
