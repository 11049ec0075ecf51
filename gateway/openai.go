/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiProvider implements Provider for OpenAI and OpenAI-compatible
// endpoints (a custom base URL covers the compatible vendors).
type openaiProvider struct {
	client     openai.Client
	model      string
	embedModel string
}

// NewOpenAI returns an OpenAI-backed provider. baseURL is optional and
// redirects the client at API-compatible vendors.
func NewOpenAI(apiKey, baseURL, model, embedModel string) Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &openaiProvider{
		client:     openai.NewClient(opts...),
		model:      model,
		embedModel: embedModel,
	}
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{
			Provider: p.Name(),
			Class:    ClassTransient,
			Err:      errors.New("empty choices in completion"),
		}
	}

	choice := completion.Choices[0]
	return &Response{
		Text:         choice.Message.Content,
		Provider:     p.Name(),
		Model:        p.model,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		FinishReason: choice.FinishReason,
	}, nil
}

func (p *openaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{
			Provider: p.Name(),
			Class:    ClassTransient,
			Err:      errors.New("empty embedding response"),
		}
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (p *openaiProvider) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: p.Name(),
			Status:   apiErr.StatusCode,
			Class:    classifyStatus(apiErr.StatusCode),
			Err:      err,
		}
	}
	return err
}
