package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/RyanBlaney/sonido-clave/keydetect"
)

var (
	highColor  = color.New(color.FgGreen, color.Bold)
	lowColor   = color.New(color.FgYellow, color.Bold)
	mutedColor = color.New(color.Faint)
	errorColor = color.New(color.FgRed, color.Bold)
)

// noResultMessage is shown when the clip is too short or silent
const noResultMessage = "clip too short or invalid: need at least one second of audible sound"

func renderText(w io.Writer, est *keydetect.KeyEstimate, withCandidates bool) {
	if est == nil {
		lowColor.Fprintln(w, noResultMessage)
		return
	}

	banner := lowColor
	band := "low confidence"
	if est.IsHighConfidence() {
		banner = highColor
		band = "high confidence"
	}

	banner.Fprintf(w, "Key: %s\n", est.Name())
	fmt.Fprintf(w, "Certainty: %d%% (%s)\n", est.Certainty, band)
	mutedColor.Fprintf(w, "Camelot: %s\n", est.Camelot())

	if withCandidates && len(est.Runners) > 0 {
		fmt.Fprintln(w, "Also likely:")
		for _, c := range est.Runners {
			mutedColor.Fprintf(w, "  %-9s %3d%%\n", c.Name(), keydetect.CertaintyFromScore(c.Score))
		}
	}
}

type jsonResult struct {
	Source         string                 `json:"source"`
	SuppressLowEnd bool                   `json:"suppress_low_end"`
	Found          bool                   `json:"found"`
	Key            string                 `json:"key,omitempty"`
	Camelot        string                 `json:"camelot,omitempty"`
	HighConfidence bool                   `json:"high_confidence"`
	Estimate       *keydetect.KeyEstimate `json:"estimate,omitempty"`
	Message        string                 `json:"message,omitempty"`
}

func renderJSON(w io.Writer, src keydetect.Source, filter keydetect.FilterConfig, est *keydetect.KeyEstimate) error {
	res := jsonResult{
		Source:         src.Name,
		SuppressLowEnd: filter.SuppressLowEnd,
		Found:          est != nil,
		Estimate:       est,
	}
	if est != nil {
		res.Key = est.Name()
		res.Camelot = est.Camelot()
		res.HighConfidence = est.IsHighConfidence()
	} else {
		res.Message = noResultMessage
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
