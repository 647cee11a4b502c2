// Package chunker splits parent document content into overlapping chunks and
// attaches embedded child documents, reusing prior chunks when the content is
// unchanged on a full reindex.
package chunker

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

// Service builds chunk child documents for parent pages
type Service struct {
	embedder     interfaces.EmbeddingService
	chunkSize    int
	chunkOverlap int
	logger       arbor.ILogger
}

// NewService creates a chunker. A nil embedder disables chunk generation;
// prior chunks can still be reused.
func NewService(config *common.EmbeddingsConfig, embedder interfaces.EmbeddingService, logger arbor.ILogger) *Service {
	return &Service{
		embedder:     embedder,
		chunkSize:    config.ChunkSize,
		chunkOverlap: config.ChunkOverlap,
		logger:       logger,
	}
}

// AttachChunks populates doc.Chunks for a parent document. On a full reindex
// with content unchanged from the prior indexed version, the prior chunks are
// reused verbatim with no embedding calls. Otherwise the content is split and
// each chunk embedded; chunks whose embedding fails are skipped and the
// remaining chunk numbers stay contiguous from 1.
func (s *Service) AttachChunks(ctx context.Context, doc *models.Document, chunkLimit int, prior *models.PriorContent, fullIndex bool) {
	doc.Chunks = nil
	if doc.Content == "" {
		return
	}

	if fullIndex && prior != nil && prior.Content == doc.Content && len(prior.Chunks) > 0 {
		doc.Chunks = prior.Chunks
		s.logger.Debug().
			Str("url", doc.URL).
			Int("chunks", len(prior.Chunks)).
			Msg("Content unchanged, reusing prior chunks")
		return
	}

	if s.embedder == nil {
		return
	}

	texts := splitText(doc.Content, s.chunkSize, s.chunkOverlap)
	if chunkLimit > 0 && len(texts) > chunkLimit {
		texts = texts[:chunkLimit]
	}

	chunks := make([]models.Chunk, 0, len(texts))
	for _, text := range texts {
		vector, err := s.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", doc.URL).Msg("Skipping chunk with failed embedding")
			continue
		}
		no := len(chunks) + 1
		chunks = append(chunks, models.Chunk{
			ID:           models.ChunkID(doc.ID, no),
			URL:          doc.URL,
			Domain:       doc.Domain,
			Relationship: models.RelationshipChild,
			No:           no,
			Text:         text,
			Vector:       vector,
		})
	}

	if len(chunks) > 0 {
		doc.Chunks = chunks
	}
}
