package stats

import (
	"math"
	"testing"
)

func TestPearsonCorrelation(t *testing.T) {
	tests := []struct {
		name   string
		x, y   []float64
		want   float64
		wantOK bool
	}{
		{"identical", []float64{1, 2, 3, 4}, []float64{1, 2, 3, 4}, 1, true},
		{"scaled", []float64{1, 2, 3, 4}, []float64{10, 20, 30, 40}, 1, true},
		{"inverted", []float64{1, 2, 3, 4}, []float64{4, 3, 2, 1}, -1, true},
		{"orthogonal", []float64{1, -1, 1, -1}, []float64{1, 1, -1, -1}, 0, true},
		{"constant x", []float64{3, 3, 3}, []float64{1, 2, 3}, 0, false},
		{"all zero y", []float64{1, 2, 3}, []float64{0, 0, 0}, 0, false},
		{"length mismatch", []float64{1, 2, 3}, []float64{1, 2}, 0, false},
		{"too short", []float64{1}, []float64{1}, 0, false},
		{"nan input", []float64{1, math.NaN(), 3}, []float64{1, 2, 3}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PearsonCorrelation(tt.x, tt.y)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}
