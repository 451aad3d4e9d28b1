package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"marketpulse/internal/core"

	"github.com/spf13/viper"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model used for sentiment classification.
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultEmbeddingModel is the default model for generating embeddings
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = int32(768)

	// classifyPromptTemplate asks for a strict machine-parseable verdict on
	// financial news sentiment. Retrieved historical context, when present,
	// precedes the target text.
	classifyPromptTemplate = `You are a financial news sentiment classifier for the Indian equity market.
Classify the sentiment of the TARGET ARTICLE below and respond with EXACTLY this format:

SENTIMENT_LABEL: [one word: positive, negative, or neutral]
SENTIMENT_CONFIDENCE: [number between 0.0 and 1.0]

%s
TARGET ARTICLE:
%s

Remember: Respond with EXACTLY the format above, nothing else.`
)

// Client represents a client for interacting with the Gemini API. It serves
// as both the sentiment classifier and the embedding service.
type Client struct {
	apiKey         string
	modelName      string
	embeddingModel string
	gClient        *genai.Client
}

// NewClient creates a new LLM client.
// It supports multiple ways to get the API key (in order of preference):
// 1. Environment variable: GEMINI_API_KEY (or alternatives)
// 2. Viper configuration: ai.gemini.api_key
func NewClient(modelName string) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		if apiKey = os.Getenv("GOOGLE_GEMINI_API_KEY"); apiKey == "" {
			if apiKey = os.Getenv("GOOGLE_AI_API_KEY"); apiKey == "" {
				apiKey = viper.GetString("ai.gemini.api_key")
			}
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file.\nGet your API key from: https://makersuite.google.com/app/apikey")
	}

	if modelName == "" {
		modelName = viper.GetString("ai.gemini.model")
		if modelName == "" {
			modelName = DefaultModel
		}
	}

	embeddingModel := viper.GetString("ai.gemini.embedding_model")
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	ctx := context.Background()
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		apiKey:         apiKey,
		modelName:      modelName,
		embeddingModel: embeddingModel,
		gClient:        gClient,
	}, nil
}

// generateContent is a helper that wraps the SDK's GenerateContent call
func (c *Client) generateContent(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}

	return text, nil
}

// ClassifySentiment classifies the sentiment of a (possibly context-augmented)
// article text. The contextBlock may be empty when retrieval produced nothing.
// Label and confidence are accepted from the model as-is, no recalibration.
func (c *Client) ClassifySentiment(ctx context.Context, targetText, contextBlock string) (core.SentimentLabel, float64, error) {
	section := ""
	if contextBlock != "" {
		section = "HISTORICAL CONTEXT (similar recent news, for reference only):\n" + contextBlock + "\n"
	}

	prompt := fmt.Sprintf(classifyPromptTemplate, section, targetText)

	resultText, err := c.generateContent(ctx, prompt)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", core.ErrClassificationFailed, err)
	}

	label, confidence, err := parseClassifyResponse(resultText)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", core.ErrClassificationFailed, err)
	}
	return label, confidence, nil
}

// parseClassifyResponse extracts the label and confidence from the model's
// strict-format response, tolerating extra whitespace and stray lines.
func parseClassifyResponse(response string) (core.SentimentLabel, float64, error) {
	label := ""
	confidence := -1.0

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "SENTIMENT_LABEL:") {
			label = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "SENTIMENT_LABEL:")))
		} else if strings.HasPrefix(line, "SENTIMENT_CONFIDENCE:") {
			confStr := strings.TrimSpace(strings.TrimPrefix(line, "SENTIMENT_CONFIDENCE:"))
			if v, err := strconv.ParseFloat(confStr, 64); err == nil {
				confidence = v
			}
		}
	}

	switch label {
	case "positive", "negative", "neutral":
	default:
		return "", 0, fmt.Errorf("unrecognized sentiment label %q", label)
	}
	if confidence < 0 {
		return "", 0, fmt.Errorf("missing or malformed confidence in response")
	}

	// Clamp confidence to valid range
	if confidence > 1.0 {
		confidence = 1.0
	}

	return core.SentimentLabel(label), confidence, nil
}

// GenerateEmbedding produces a fixed-length vector for the given text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}

	// Configure embedding with 768 dimensions using Matryoshka
	dims := DefaultEmbeddingDimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingUnavailable, err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: no embedding values returned from API", core.ErrEmbeddingUnavailable)
	}

	// Convert float32 to float64
	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, val := range values {
		embedding[i] = float64(val)
	}

	return embedding, nil
}

// GetModelName returns the model name used by this client
func (c *Client) GetModelName() string {
	return c.modelName
}
