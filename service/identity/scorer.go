package identity

import "math"

type euclideanScorer struct{}

// NewEuclidean scores as one minus the euclidean distance, which is how the
// 128-d face embeddings are usually compared.
func NewEuclidean() Scorer {
	return euclideanScorer{}
}

func (euclideanScorer) Score(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return clamp01(1 - math.Sqrt(sum))
}

type cosineScorer struct{}

// NewCosine scores by cosine similarity. Opposite vectors score 0.
func NewCosine() Scorer {
	return cosineScorer{}
}

func (cosineScorer) Score(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
