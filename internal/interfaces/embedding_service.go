package interfaces

import "context"

// EmbeddingService generates vector embeddings for content chunks
type EmbeddingService interface {
	// Generate embedding for raw text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Get model information
	ModelName() string
	Dimension() int

	// Check if service is available
	IsAvailable(ctx context.Context) bool
}
