package vector

import "math"

// Cosine returns the cosine similarity of a and b: dot(a,b) / (‖a‖·‖b‖).
//
// Vectors of differing length are compared over the shorter common length
// rather than raising an error. If either norm is exactly 0 the result is
// defined as 0, never a division-by-zero artifact; zero vectors (the
// embedder-unavailable fallback) score everything as equally irrelevant.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
