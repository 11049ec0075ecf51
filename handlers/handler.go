/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package handlers contains the per-event automation pipelines and the
// router mapping (event type, action) pairs onto them. Handlers never
// touch delivery record state; they return a Result the worker loop
// consumes.
package handlers

import (
	"context"
	"strings"

	"chainguard.dev/fossmate/events"
	"chainguard.dev/fossmate/fossconfig"
	"chainguard.dev/fossmate/gateway"
	"chainguard.dev/fossmate/ledger"
)

// Result is what a handler produces for one delivery.
type Result struct {
	Status   ledger.RunStatus
	Summary  string
	Cause    string
	Findings []ledger.Finding
	Score    *ledger.ScoreCard
}

// Handler is one automation pipeline.
type Handler interface {
	ID() string

	// Handle runs the pipeline. A returned error means the pipeline
	// failed; the worker loop converts it into a failed run and decides
	// retryability. Partial degradation is expressed through the Result,
	// not the error.
	Handle(ctx context.Context, ev *events.Normalized, inst *fossconfig.Installation) (*Result, error)
}

// Inference is the slice of the gateway handlers consume.
type Inference interface {
	Generate(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OutputFilter post-processes generated text before it leaves the
// pipeline. Policy filtering hooks in here.
type OutputFilter func(string) string

// TrimFilter is the default output filter.
func TrimFilter(s string) string { return strings.TrimSpace(s) }

func skipped(reason string) *Result {
	return &Result{Status: ledger.RunSkipped, Summary: reason}
}

// Registry is the event router: a pure mapping from (event type, action)
// to a handler. Unmatched combinations are expected, not exceptional;
// the worker loop terminates them with a no-op run.
type Registry struct {
	m map[string]Handler
}

// NewRegistry returns an empty router.
func NewRegistry() *Registry {
	return &Registry{m: map[string]Handler{}}
}

// Register binds a handler to an (event type, action) pair.
func (r *Registry) Register(eventType, action string, h Handler) {
	r.m[eventType+"/"+action] = h
}

// Route resolves the handler for an event, if any.
func (r *Registry) Route(eventType, action string) (Handler, bool) {
	h, ok := r.m[eventType+"/"+action]
	return h, ok
}
