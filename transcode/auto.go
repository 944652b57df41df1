package transcode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-clave/logging"
)

// AutoDecoder uses the native WAV decoder for RIFF/WAVE input and ffmpeg
// for everything else, including WAV encodings the native decoder rejects.
type AutoDecoder struct {
	wav    *WAVDecoder
	ffmpeg *FFmpegDecoder
}

// NewAutoDecoder creates a decoder that picks a backend per source
func NewAutoDecoder(config *DecoderConfig) *AutoDecoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &AutoDecoder{
		wav:    NewWAVDecoder(config),
		ffmpeg: NewFFmpegDecoder(config),
	}
}

// Decode decodes the file at path
func (d *AutoDecoder) Decode(ctx context.Context, path string) (*AudioClip, error) {
	if !d.looksLikeWAV(path) {
		return d.ffmpeg.Decode(ctx, path)
	}

	clip, err := d.wav.Decode(ctx, path)
	if errors.Is(err, ErrUnsupportedWAV) {
		logging.WithContext(ctx).Debug("Falling back to ffmpeg", logging.Fields{
			"component": "auto_decoder",
			"path":      path,
			"reason":    err.Error(),
		})
		return d.ffmpeg.Decode(ctx, path)
	}
	return clip, err
}

// DecodeReader decodes an in-memory source
func (d *AutoDecoder) DecodeReader(ctx context.Context, r io.Reader) (*AudioClip, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, decodeError("", err)
	}

	if !isRIFFWave(data) {
		return d.ffmpeg.DecodeBytes(ctx, data)
	}

	clip, err := d.wav.DecodeReader(ctx, bytes.NewReader(data))
	if errors.Is(err, ErrUnsupportedWAV) {
		return d.ffmpeg.DecodeBytes(ctx, data)
	}
	return clip, err
}

// looksLikeWAV checks the extension first, then the file header
func (d *AutoDecoder) looksLikeWAV(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return isRIFFWave(header)
}

func isRIFFWave(header []byte) bool {
	return len(header) >= 12 &&
		bytes.Equal(header[0:4], []byte("RIFF")) &&
		bytes.Equal(header[8:12], []byte("WAVE"))
}
