package llm

import (
	"context"
)

// LLMClient is the text generation boundary: keyword extraction and the
// relevance judgment in retrieval go through it.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbedderClient turns text into a fixed-length vector. Callers must treat an
// error as "no vector available" and carry on without one.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingDim is the vector length stored on nodes.
const EmbeddingDim = 384
