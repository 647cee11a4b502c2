package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// googleClient generates embeddings with the Gemini API.
type googleClient struct {
	client    *genai.Client
	model     string
	dimension int
}

func newGoogleClient(apiKey, model string, dimension int) (*googleClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google provider requires an API key")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	return &googleClient{
		client:    client,
		model:     model,
		dimension: dimension,
	}, nil
}

func (c *googleClient) embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{}
	if c.dimension > 0 {
		outputDim := int32(c.dimension)
		config.OutputDimensionality = &outputDim
	}

	result, err := c.client.Models.EmbedContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, config)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	if result == nil || len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	return result.Embeddings[0].Values, nil
}

func (c *googleClient) healthCheck(ctx context.Context) error {
	// A one-token embed verifies both credentials and model availability.
	_, err := c.embed(ctx, "ping")
	return err
}
