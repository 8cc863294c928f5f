package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/docsort"
)

// AzureConfig points the agent at an Azure OpenAI deployment.
type AzureConfig struct {
	Endpoint    string
	Deployment  string
	APIVersion  string
	APIKey      string
	Temperature float32
	MaxTokens   int
}

// OpenAI classifies documents with a chat completion model.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewAzure builds an agent for an Azure OpenAI deployment.
func NewAzure(cfg AzureConfig, logger *zap.Logger) (*OpenAI, error) {
	if cfg.Endpoint == "" || cfg.Deployment == "" || cfg.APIKey == "" {
		return nil, errors.New("azure openai endpoint, deployment and api key are required")
	}
	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		clientCfg.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Deployment
	clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	return NewWithConfig(clientCfg, cfg.Deployment, cfg.Temperature, cfg.MaxTokens, logger), nil
}

// NewWithConfig builds an agent from a raw client configuration.
func NewWithConfig(cfg openai.ClientConfig, model string, temperature float32, maxTokens int, logger *zap.Logger) *OpenAI {
	if logger == nil {
		logger = zap.NewNop()
	}
	if temperature == 0 {
		temperature = 0.3
	}
	if maxTokens == 0 {
		maxTokens = 2000
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

type classifyReply struct {
	CategoryID int     `json:"category_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify implements docsort.Classifier.
func (o *OpenAI) Classify(ctx context.Context, doc docsort.Document) (docsort.Classification, error) {
	reply, err := o.complete(ctx, classifyPrompt(doc))
	if err != nil {
		return docsort.Classification{}, err
	}
	var parsed classifyReply
	if err := decodeObject(reply, &parsed); err != nil {
		return docsort.Classification{}, err
	}
	if _, err := docsort.LookupCategory(parsed.CategoryID); err != nil {
		o.logger.Warn("agent returned unknown category",
			zap.Int64("document_id", doc.ID),
			zap.Int("category_id", parsed.CategoryID),
		)
		parsed.CategoryID = docsort.OtherCategoryID
	}
	return classification(doc.ID, parsed.CategoryID, clampConfidence(parsed.Confidence), parsed.Reasoning)
}

type reclassifyReply struct {
	Reclassifications []docsort.Reassignment `json:"reclassifications"`
	AgentNotes        string                 `json:"agent_notes"`
}

// Reclassify implements docsort.Classifier.
func (o *OpenAI) Reclassify(
	ctx context.Context,
	prompt string,
	groups []docsort.CategoryGroup,
) ([]docsort.Reassignment, string, error) {
	userPrompt, err := reclassifyPrompt(prompt, groups)
	if err != nil {
		return nil, "", err
	}
	reply, err := o.complete(ctx, userPrompt)
	if err != nil {
		return nil, "", err
	}
	var parsed reclassifyReply
	if err := decodeObject(reply, &parsed); err != nil {
		return nil, "", err
	}
	return parsed.Reclassifications, parsed.AgentNotes, nil
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	o.logger.Debug("agent reply",
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return content, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
