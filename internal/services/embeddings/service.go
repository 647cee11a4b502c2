package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
)

// provider is one embedding backend.
type provider interface {
	embed(ctx context.Context, text string) ([]float32, error)
	healthCheck(ctx context.Context) error
}

// Service implements EmbeddingService with a rate-limited provider backend
type Service struct {
	provider  provider
	limiter   *rate.Limiter
	model     string
	dimension int
	logger    arbor.ILogger
}

// NewService creates an embedding service for the configured provider.
// Callers should not construct a service when the provider is "disabled".
func NewService(config *common.EmbeddingsConfig, logger arbor.ILogger) (interfaces.EmbeddingService, error) {
	var (
		p   provider
		err error
	)
	switch config.Provider {
	case "ollama":
		p = newOllamaClient(config.URL, config.Model, config.Timeout)
	case "google":
		p, err = newGoogleClient(config.APIKey, config.Model, config.Dimension)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", config.Provider)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Every(config.RateLimit), 1)
	}

	return &Service{
		provider:  p,
		limiter:   limiter,
		model:     config.Model,
		dimension: config.Dimension,
		logger:    logger,
	}, nil
}

// GenerateEmbedding creates a vector embedding for text
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait cancelled: %w", err)
	}

	start := time.Now()
	embedding, err := s.provider.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if len(embedding) == 0 {
		return nil, fmt.Errorf("provider returned empty embedding")
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding))
	}

	s.logger.Debug().
		Str("model", s.model).
		Int("embedding_dim", len(embedding)).
		Dur("duration", time.Since(start)).
		Msg("Generated embedding")

	return embedding, nil
}

// ModelName returns the configured model name
func (s *Service) ModelName() string {
	return s.model
}

// Dimension returns the expected embedding dimension
func (s *Service) Dimension() int {
	return s.dimension
}

// IsAvailable checks whether the provider responds to a health check
func (s *Service) IsAvailable(ctx context.Context) bool {
	if err := s.provider.healthCheck(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Embedding provider not available")
		return false
	}
	return true
}
