package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// Hash is an offline embedder using feature hashing over word unigrams and bigrams.
// Term weights are 1+log(tf); the vector is L2-normalized. It is lexical, not
// semantic, but deterministic and free.
type Hash struct {
	dim int
}

// NewHash returns a Hash embedder producing vectors of length dim.
func NewHash(dim int) (*Hash, error) {
	if dim <= 0 {
		return nil, errors.Newf("hash embedder dimension must be positive, got %d", dim)
	}
	return &Hash{dim: dim}, nil
}

// Embed implements Provider.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "hash embed"), ErrEmbedding)
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, errors.Wrap(ErrEmbedding, "no terms in input")
	}

	tf := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		tf[tok]++
		if i > 0 {
			tf[tokens[i-1]+" "+tok]++
		}
	}

	vec := make([]float64, h.dim)
	for term, n := range tf {
		f := fnv.New64a()
		_, _ = f.Write([]byte(term))
		sum := f.Sum64()
		bucket := int(sum % uint64(h.dim))
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1
		}
		vec[bucket] += sign * (1 + math.Log(float64(n)))
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dim)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// Dimensions implements Provider.
func (h *Hash) Dimensions() int { return h.dim }

// Name implements Provider.
func (h *Hash) Name() string { return "hash" }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
