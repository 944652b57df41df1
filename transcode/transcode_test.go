package transcode

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/sonido-clave/logging"
)

func init() {
	logging.SetGlobalLogger(nil)
}

// writeWAV writes a 16-bit PCM file whose every channel carries the same tone
func writeWAV(t *testing.T, path string, sampleRate, channels int, seconds float64, freq float64) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	frames := int(seconds * float64(sampleRate))
	data := make([]int, frames*channels)
	for i := range frames {
		v := int(math.Round(16384 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))))
		for ch := range channels {
			data[i*channels+ch] = v
		}
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}
}

func TestNewAudioClip(t *testing.T) {
	clip, err := NewAudioClip([]float64{0.5, 1.5, -2, 0, 0.25}, 2, 2*time.Second, "mem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []float64{0.5, 1, -1, 0}
	if len(clip.Samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(clip.Samples), len(want))
	}
	for i := range want {
		if clip.Samples[i] != want[i] {
			t.Errorf("sample %d = %f, want %f", i, clip.Samples[i], want[i])
		}
	}
	if clip.Duration != 2*time.Second {
		t.Errorf("duration = %v, want 2s", clip.Duration)
	}

	if _, err := NewAudioClip(nil, 0, 0, ""); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestWAVDecoderResamplesAndDownmixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, 44100, 2, 1.0, 441)

	clip, err := NewWAVDecoder(nil).Decode(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if clip.SampleRate != DefaultSampleRate {
		t.Errorf("sample rate = %d, want %d", clip.SampleRate, DefaultSampleRate)
	}
	if n := clip.NumSamples(); n < DefaultSampleRate-2 || n > DefaultSampleRate {
		t.Errorf("got %d samples, want about %d", n, DefaultSampleRate)
	}

	peak := 0.0
	for _, s := range clip.Samples {
		peak = math.Max(peak, math.Abs(s))
	}
	if math.Abs(peak-0.5) > 0.01 {
		t.Errorf("peak = %f, want 0.5", peak)
	}
}

func TestWAVDecoderRemovesContentAboveTargetNyquist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiss.wav")
	// 21 kHz folds to 1050 Hz at 22050 Hz without an anti-alias filter
	writeWAV(t, path, 44100, 1, 1.0, 21000)

	for _, quality := range []string{"fast", "medium", "high"} {
		cfg := DefaultDecoderConfig()
		cfg.ResampleQuality = quality

		clip, err := NewWAVDecoder(cfg).Decode(context.Background(), path)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", quality, err)
		}

		peak := 0.0
		for _, s := range clip.Samples[200 : len(clip.Samples)-200] {
			peak = math.Max(peak, math.Abs(s))
		}
		if peak > 0.005 {
			t.Errorf("%s: residual peak %f, want the 21 kHz tone removed", quality, peak)
		}
	}
}

func TestWAVDecoderCapsDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.wav")
	writeWAV(t, path, 8000, 1, 3.0, 200)

	cfg := DefaultDecoderConfig()
	cfg.TargetSampleRate = 8000
	cfg.MaxDuration = time.Second

	clip, err := NewWAVDecoder(cfg).Decode(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.NumSamples() != 8000 {
		t.Errorf("got %d samples, want 8000", clip.NumSamples())
	}
	if clip.Duration != time.Second {
		t.Errorf("duration = %v, want 1s", clip.Duration)
	}
}

func TestWAVDecoderReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, DefaultSampleRate, 1, 0.5, 440)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	clip, err := NewAutoDecoder(nil).DecodeReader(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.NumSamples() != DefaultSampleRate/2 {
		t.Errorf("got %d samples, want %d", clip.NumSamples(), DefaultSampleRate/2)
	}
}

func TestDecodeErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.wav")
	if err := os.WriteFile(garbage, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("garbage wav", func(t *testing.T) {
		_, err := NewAutoDecoder(nil).Decode(context.Background(), garbage)
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("expected *DecodeError, got %v", err)
		}
		if de.Source != garbage {
			t.Errorf("source = %q, want %q", de.Source, garbage)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewWAVDecoder(nil).Decode(context.Background(), filepath.Join(dir, "missing.wav"))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("expected *DecodeError, got %v", err)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected fs.ErrNotExist in chain, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		path := filepath.Join(dir, "tone.wav")
		writeWAV(t, path, 8000, 1, 0.1, 200)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewWAVDecoder(nil).Decode(ctx, path)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestIsRIFFWave(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"RIFF\x00\x00\x00\x00WAVEfmt ", true},
		{"RIFF\x00\x00\x00\x00AVI ", false},
		{"ID3\x03", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isRIFFWave([]byte(tt.header)); got != tt.want {
			t.Errorf("isRIFFWave(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestBytesToFloat64(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []float64{0.25, -0.5, 1} {
		b := math.Float64bits(v)
		for i := range 8 {
			buf.WriteByte(byte(b >> (8 * i)))
		}
	}
	buf.WriteByte(0xff) // trailing partial sample

	got := bytesToFloat64(buf.Bytes())
	want := []float64{0.25, -0.5, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestParseFFprobeOutput(t *testing.T) {
	d := NewFFmpegDecoder(nil)

	meta, err := d.parseFFprobeOutput([]byte(`{"streams":[{"codec_type":"audio","codec_name":"mp3","sample_rate":"48000","channels":2,"duration":"12.5","bit_rate":"320000"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.SampleRate != 48000 || meta.Channels != 2 || meta.Codec != "mp3" || meta.Duration != 12.5 {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	if _, err := d.parseFFprobeOutput([]byte(`{"streams":[]}`)); err == nil {
		t.Error("expected error for no streams")
	}
	if _, err := d.parseFFprobeOutput([]byte(`{"streams":[{"codec_type":"video","channels":2}]}`)); err == nil {
		t.Error("expected error for video stream")
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	d := NewFFmpegDecoder(nil)
	args := d.buildFFmpegArgs(&AudioMetadata{SampleRate: 44100})

	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	for _, want := range []string{"-ac 1", "-ar 22050", "-t 60.00", "-f f64le", "precision=20"} {
		if !bytes.Contains([]byte(joined), []byte(want)) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestNewDecoderKinds(t *testing.T) {
	for _, kind := range []string{"", "auto", "native"} {
		if _, err := NewDecoder(kind, nil); err != nil {
			t.Errorf("NewDecoder(%q): %v", kind, err)
		}
	}
	if _, err := NewDecoder("gstreamer", nil); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func missingFFmpegConfig(dir string) *DecoderConfig {
	cfg := DefaultDecoderConfig()
	cfg.FFmpegPath = filepath.Join(dir, "no-ffmpeg")
	cfg.FFprobePath = filepath.Join(dir, "no-ffprobe")
	return cfg
}

func TestNewDecoderChecksFFmpeg(t *testing.T) {
	cfg := missingFFmpegConfig(t.TempDir())

	if _, err := NewDecoder(KindFFmpeg, cfg); !errors.Is(err, ErrFFmpegUnavailable) {
		t.Errorf("ffmpeg decoder: expected ErrFFmpegUnavailable, got %v", err)
	}

	// WAV input still decodes natively without ffmpeg
	if _, err := NewDecoder(KindAuto, cfg); err != nil {
		t.Errorf("auto decoder: %v", err)
	}
}

func TestDecodeWithoutFFmpeg(t *testing.T) {
	dir := t.TempDir()
	cfg := missingFFmpegConfig(dir)

	mp3 := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(mp3, []byte("ID3 not really an mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	wavPath := filepath.Join(dir, "tone.wav")
	writeWAV(t, wavPath, DefaultSampleRate, 1, 0.5, 440)

	t.Run("non-wav file", func(t *testing.T) {
		_, err := NewAutoDecoder(cfg).Decode(context.Background(), mp3)
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("expected *DecodeError, got %v", err)
		}
		if !errors.Is(err, ErrFFmpegUnavailable) {
			t.Errorf("expected ErrFFmpegUnavailable in chain, got %v", err)
		}
	})

	t.Run("non-wav bytes", func(t *testing.T) {
		_, err := NewAutoDecoder(cfg).DecodeReader(context.Background(), bytes.NewReader([]byte("ID3 data")))
		if !errors.Is(err, ErrFFmpegUnavailable) {
			t.Errorf("expected ErrFFmpegUnavailable, got %v", err)
		}
	})

	t.Run("missing file wins", func(t *testing.T) {
		_, err := NewFFmpegDecoder(cfg).Decode(context.Background(), filepath.Join(dir, "gone.mp3"))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected fs.ErrNotExist, got %v", err)
		}
	})

	t.Run("wav file", func(t *testing.T) {
		if _, err := NewAutoDecoder(cfg).Decode(context.Background(), wavPath); err != nil {
			t.Errorf("native WAV decode failed: %v", err)
		}
	})
}
