/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicProvider implements Provider using the Anthropic Messages API.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropic returns an Anthropic-backed provider.
func NewAnthropic(apiKey, model string) Provider {
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(req.Prompt),
			},
		}},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrap(err)
	}

	var text string
	for _, content := range message.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}

	return &Response{
		Text:         text,
		Provider:     p.Name(),
		Model:        p.model,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
		FinishReason: string(message.StopReason),
	}, nil
}

// Embed is unsupported; the route falls through to a provider with an
// embedding endpoint.
func (p *anthropicProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: anthropic", ErrUnsupported)
}

func (p *anthropicProvider) wrap(err error) error {
	var apiErr *anthropic.Error
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
