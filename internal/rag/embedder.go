package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder converts text to vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// HashDimensions is the fixed width of hashed embeddings.
const HashDimensions = 384

// hashEmbedder produces deterministic local embeddings by feature-hashing
// word unigrams and bigrams into a fixed-width vector. It needs no network
// and no model weights, which keeps retrieval self-contained; quality is
// lexical rather than semantic, which is adequate for same-project code
// snippets where vocabulary overlap dominates.
type hashEmbedder struct {
	cache *lru.Cache[string, []float32]
}

// NewHashEmbedder returns the default local embedder with an LRU cache over
// recently embedded texts.
func NewHashEmbedder(cacheSize int) (Embedder, error) {
	if cacheSize <= 0 {
		cacheSize = 2048
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embed cache: %w", err)
	}
	return &hashEmbedder{cache: cache}, nil
}

func (e *hashEmbedder) Dimensions() int { return HashDimensions }

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		out := make([]float32, len(cached))
		copy(out, cached)
		return out, nil
	}
	vec := hashVector(text)
	e.cache.Add(text, vec)
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

func (e *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func bucket(token string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum32() % uint32(HashDimensions))
}

func hashVector(text string) []float32 {
	vec := make([]float32, HashDimensions)
	tokens := tokenize(text)
	for i, tok := range tokens {
		vec[bucket(tok)]++
		if i > 0 {
			vec[bucket(tokens[i-1]+" "+tok)] += 0.5
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
