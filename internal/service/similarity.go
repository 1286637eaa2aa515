package service

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// CosineSimilarity returns dot(a, b) / (|a| |b|), or 0 when either vector
// has zero norm. a and b must have the same length.
func CosineSimilarity(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// scored is a catalog row index with its similarity to the query.
type scored struct {
	row   int
	score float64
}

// rank sorts by descending score. Equal scores keep their filtered order.
func rank(items []scored) {
	slices.SortStableFunc(items, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
