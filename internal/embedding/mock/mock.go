// Package mock provides a deterministic embedding provider for tests and
// for running the engine without an Ollama instance. Texts that share
// tokens produce vectors with high cosine similarity, which is enough for
// retrieval and contradiction-detection behavior to be exercised end to
// end without a real model.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
)

const defaultDimension = 256

// Provider embeds text as a normalized token histogram: each lowercase
// token is hashed into one of Dimension buckets and the bucket counts are
// L2-normalized. Deterministic and cheap.
type Provider struct {
	dimension int
	calls     atomic.Int64
	failAfter int64 // when > 0, Embed fails once calls exceed this
	err       error
}

// New creates a mock provider with the default dimension.
func New() *Provider {
	return &Provider{dimension: defaultDimension}
}

// NewWithDimension creates a mock provider producing vectors of the given
// length.
func NewWithDimension(dimension int) *Provider {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &Provider{dimension: dimension}
}

// FailAfter makes Embed return err after n successful calls. Used to test
// graceful degradation paths.
func (p *Provider) FailAfter(n int, err error) {
	p.failAfter = int64(n)
	p.err = err
}

// Calls reports how many times Embed has been invoked.
func (p *Provider) Calls() int64 { return p.calls.Load() }

// Embed returns the token-histogram embedding for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := p.calls.Add(1)
	if p.failAfter > 0 && n > p.failAfter {
		return nil, p.err
	}

	vec := make([]float32, p.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%p.dimension]++
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
	} else {
		// Empty or punctuation-only text gets a fixed unit vector so
		// downstream code never sees a zero embedding.
		vec[0] = 1
	}

	return vec, nil
}

// Dimension returns the vector length.
func (p *Provider) Dimension() int { return p.dimension }

// tokenize splits text into lowercase letter-and-digit runs.
func tokenize(text string) []string {
	var (
		tokens []string
		b      strings.Builder
	)
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
