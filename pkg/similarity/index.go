// Package similarity implements a flat cosine-similarity index over fixed-dimension embeddings.
package similarity

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrDimensionMismatch is returned when vectors of different lengths are compared.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Result is one nearest-neighbour match.
type Result struct {
	ID    uint64
	Score float64
}

// Cosine returns dot(a,b) / (|a|*|b|). A zero vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "%d != %d", len(a), len(b))
	}
	var dot, ma, mb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		ma += float64(a[i]) * float64(a[i])
		mb += float64(b[i]) * float64(b[i])
	}
	return score(dot, math.Sqrt(ma), math.Sqrt(mb)), nil
}

func score(dot, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (na * nb)
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

type vector struct {
	id   uint64
	data []float32
	norm float64
}

// Index is a flat linear-scan index. It is not safe for concurrent use;
// callers serialize access (see cache.SemanticCache).
type Index struct {
	dim     int
	vectors []vector
	pos     map[uint64]int
}

// New creates an empty index for vectors of length dim.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, errors.Newf("index dimension must be positive, got %d", dim)
	}
	return &Index{dim: dim, pos: make(map[uint64]int)}, nil
}

// Dim returns the vector length the index accepts.
func (x *Index) Dim() int { return x.dim }

// Len returns the number of indexed vectors.
func (x *Index) Len() int { return len(x.vectors) }

// Insert adds or replaces the vector stored under id. The vector is copied.
func (x *Index) Insert(id uint64, embedding []float32) error {
	if len(embedding) != x.dim {
		return errors.Wrapf(ErrDimensionMismatch, "insert %d: got %d, want %d", id, len(embedding), x.dim)
	}
	v := vector{id: id, data: append([]float32(nil), embedding...), norm: norm(embedding)}
	if i, ok := x.pos[id]; ok {
		x.vectors[i] = v
		return nil
	}
	x.pos[id] = len(x.vectors)
	x.vectors = append(x.vectors, v)
	return nil
}

// Remove deletes id from the index. Removing an unknown id is a no-op.
func (x *Index) Remove(id uint64) {
	i, ok := x.pos[id]
	if !ok {
		return
	}
	last := len(x.vectors) - 1
	if i != last {
		x.vectors[i] = x.vectors[last]
		x.pos[x.vectors[i].id] = i
	}
	x.vectors[last] = vector{}
	x.vectors = x.vectors[:last]
	delete(x.pos, id)
}

// Contains reports whether id is indexed.
func (x *Index) Contains(id uint64) bool {
	_, ok := x.pos[id]
	return ok
}

// Search returns up to topK results ordered by descending score, ties by ascending id.
// An empty index yields an empty result.
func (x *Index) Search(query []float32, topK int) ([]Result, error) {
	if len(query) != x.dim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "search: got %d, want %d", len(query), x.dim)
	}
	if topK <= 0 || len(x.vectors) == 0 {
		return []Result{}, nil
	}

	qn := norm(query)
	results := make([]Result, 0, len(x.vectors))
	for _, v := range x.vectors {
		var dot float64
		for i := range query {
			dot += float64(query[i]) * float64(v.data[i])
		}
		results = append(results, Result{ID: v.id, Score: score(dot, v.norm, qn)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
