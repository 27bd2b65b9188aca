package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/time/rate"
)

// Func computes a fixed-length embedding for text. The embedding model is an
// external collaborator; implementations may fail or be entirely absent, and
// the index degrades to zero vectors in that case.
type Func func(ctx context.Context, text string) ([]float32, error)

// HashEmbedder returns a deterministic bag-of-words embedder using the
// hashing trick: each lowercased token increments one of dim buckets chosen
// by FNV-1a, and the result is L2-normalized. It is a stand-in for a real
// model, good enough for tests and for deployments without one: similar
// texts share buckets, and identical texts always embed identically.
func HashEmbedder(dim int) Func {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, tok := range tokens {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%uint32(dim)]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for i := range vec {
				vec[i] *= scale
			}
		}
		return vec, nil
	}
}

// RateLimited wraps fn so calls observe a per-second budget, for embedding
// backends with request quotas. Burst is 1; callers block until a slot is
// available or their context is done.
func RateLimited(fn Func, perSecond float64) Func {
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	return func(ctx context.Context, text string) ([]float32, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return fn(ctx, text)
	}
}
