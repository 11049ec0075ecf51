/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gateway abstracts inference providers behind one call shape and
// adds route-based fallback: a transient failure from the primary provider
// is transparently retried once against the next provider in the route.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

// Request is a provider-independent generation request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int64
}

// Response is the normalized response schema shared by all providers.
type Response struct {
	Text         string
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	FinishReason string
}

// Provider is the capability interface implemented by each vendor.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Class partitions provider failures for retry decisions.
type Class int

const (
	// ClassPermanent failures (bad request, auth) are never retried across
	// providers.
	ClassPermanent Class = iota
	// ClassTransient failures (timeout, 5xx-equivalent) drive fallback.
	ClassTransient
	// ClassRateLimited is transient with backoff semantics upstream.
	ClassRateLimited
)

// ErrUnsupported marks an operation a provider cannot perform (for
// example, embeddings on a chat-only vendor). The gateway skips to the
// next provider in the route.
var ErrUnsupported = errors.New("gateway: operation not supported by provider")

// ProviderError wraps a vendor failure with its classification.
type ProviderError struct {
	Provider string
	Status   int
	Class    Class
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v (status %d)", e.Provider, e.Err, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether the error should drive provider fallback.
// Deadline expiry counts as transient per the call-timeout contract.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class == ClassTransient || pe.Class == ClassRateLimited
	}
	return false
}

// classifyStatus maps an HTTP-equivalent status to a failure class.
func classifyStatus(status int) Class {
	switch status {
	case 429:
		return ClassRateLimited
	case 408, 500, 502, 503, 504, 529:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// Gateway fans calls across an ordered provider route.
type Gateway struct {
	route   []Provider
	timeout time.Duration
}

// New builds a gateway over the given route. The per-call timeout applies
// to each provider attempt individually and is mandatory; a zero timeout
// defaults to 60s.
func New(timeout time.Duration, route ...Provider) (*Gateway, error) {
	if len(route) == 0 {
		return nil, errors.New("gateway: route requires at least one provider")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{route: route, timeout: timeout}, nil
}

// Primary returns the name of the first provider in the route.
func (g *Gateway) Primary() string { return g.route[0].Name() }

// Generate calls providers along the route until one succeeds. Permanent
// failures stop the walk immediately; the surfaced error references every
// attempted provider.
func (g *Gateway) Generate(ctx context.Context, req *Request) (*Response, error) {
	log := clog.FromContext(ctx)
	var attempts []error

	for _, p := range g.route {
		resp, err := g.callGenerate(ctx, p, req)
		if err == nil {
			return resp, nil
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", p.Name(), err))
		if !IsTransient(err) {
			break
		}
		log.With("provider", p.Name()).With("error", err.Error()).
			Warn("Transient provider failure, trying next in route")
	}

	return nil, fmt.Errorf("generate failed after %d attempt(s): %w", len(attempts), errors.Join(attempts...))
}

// Embed resolves an embedding along the route, skipping providers that do
// not support embeddings.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	var attempts []error

	for _, p := range g.route {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		vec, err := p.Embed(cctx, text)
		cancel()
		if err == nil {
			return vec, nil
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", p.Name(), err))
		if !errors.Is(err, ErrUnsupported) && !IsTransient(err) {
			break
		}
	}

	return nil, fmt.Errorf("embed failed after %d attempt(s): %w", len(attempts), errors.Join(attempts...))
}

func (g *Gateway) callGenerate(ctx context.Context, p Provider, req *Request) (*Response, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := p.Generate(cctx, req)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		// Ensure call timeouts classify as transient even when the vendor
		// SDK swallows the context error.
		return nil, fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return resp, err
}

// Spec names one provider in a route, resolved from configuration.
type Spec struct {
	Model          string
	APIKey         string
	BaseURL        string
	EmbeddingModel string
}

// Route resolves provider specs into a route. The model name determines
// the vendor: claude-* models use Anthropic, everything else goes through
// the OpenAI-compatible client.
func Route(specs ...Spec) ([]Provider, error) {
	route := make([]Provider, 0, len(specs))
	for _, s := range specs {
		if s.Model == "" {
			continue
		}
		switch {
		case strings.HasPrefix(strings.ToLower(s.Model), "claude-"):
			route = append(route, NewAnthropic(s.APIKey, s.Model))
		default:
			route = append(route, NewOpenAI(s.APIKey, s.BaseURL, s.Model, s.EmbeddingModel))
		}
	}
	if len(route) == 0 {
		return nil, errors.New("gateway: no providers configured")
	}
	return route, nil
}
