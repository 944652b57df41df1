package keydetect

import (
	"errors"

	"github.com/RyanBlaney/sonido-clave/algorithms/chroma"
)

// ErrNoSource is returned when a Source carries neither a path nor data
var ErrNoSource = errors.New("source has neither a path nor data")

// Source is a resolved audio input: a local file path or an in-memory buffer.
// Path takes precedence when both are set.
type Source struct {
	Path string
	Data []byte
	Name string // label for logs when reading from Data
}

// FileSource returns a Source for a local file
func FileSource(path string) Source {
	return Source{Path: path, Name: path}
}

// BufferSource returns a Source for encoded audio held in memory
func BufferSource(name string, data []byte) Source {
	return Source{Data: data, Name: name}
}

func (s Source) validate() error {
	if s.Path == "" && len(s.Data) == 0 {
		return ErrNoSource
	}
	return nil
}

func (s Source) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Path != "" {
		return s.Path
	}
	return "<buffer>"
}

// FilterConfig holds per-request analysis options
type FilterConfig struct {
	// SuppressLowEnd raises the chroma floor from C2 to C3 to ignore stage
	// rumble, bass amplification and handling noise.
	SuppressLowEnd bool `json:"suppress_low_end"`
}

// MinFrequency returns the lowest frequency the chroma analysis considers
func (f FilterConfig) MinFrequency() float64 {
	if f.SuppressLowEnd {
		return chroma.FreqC3
	}
	return chroma.FreqC2
}
