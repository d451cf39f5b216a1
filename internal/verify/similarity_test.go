package verify

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{3, 4}, []float32{3, 4}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"unnormalized", []float32{2, 0}, []float32{5, 0}, 1.0},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCosineSimilarityBounded(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.9}
	b := []float32{-0.5, 0.1, 0.8, -0.2}

	got := CosineSimilarity(a, b)
	if got < -1 || got > 1 {
		t.Errorf("CosineSimilarity = %v, out of [-1, 1]", got)
	}
}
