/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package fossconfig carries service configuration. It is processed once
// in main and passed by reference; nothing reads ambient process state
// after startup.
package fossconfig

import (
	"time"
)

// Config is the environment-derived service configuration.
type Config struct {
	Port        int `env:"PORT, default=8080"`
	MetricsPort int `env:"METRICS_PORT, default=2112"`

	// Pipeline sizing.
	Workers    int `env:"WORKERS, default=4"`
	QueueDepth int `env:"QUEUE_DEPTH, default=256"`

	// Ingress.
	WebhookSecret string `env:"GITHUB_WEBHOOK_SECRET, required"`

	// Identity used in outbound comments and markers.
	AssistantHandle string `env:"ASSISTANT_HANDLE, default=fossmate"`
	CheckName       string `env:"CHECK_NAME, default=FOSSMate Review"`

	// Deadlines. HandlerTimeout bounds a whole pipeline execution;
	// CallTimeout bounds each remote call inside it.
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT, default=2m"`
	CallTimeout    time.Duration `env:"CALL_TIMEOUT, default=60s"`

	// Delivery retry policy: bounded exponential backoff, then dead-letter.
	MaxAttempts  int           `env:"MAX_DELIVERY_ATTEMPTS, default=5"`
	RetryBackoff time.Duration `env:"RETRY_BASE_BACKOFF, default=500ms"`
	RetryCap     time.Duration `env:"RETRY_MAX_BACKOFF, default=15s"`

	// Primary provider.
	Model          string `env:"LLM_MODEL, default=claude-sonnet-4-5"`
	APIKey         string `env:"LLM_API_KEY"`
	BaseURL        string `env:"LLM_BASE_URL"`
	EmbeddingModel string `env:"LLM_EMBEDDING_MODEL"`

	// Optional fallback provider, tried once on transient primary failure.
	FallbackModel   string `env:"LLM_FALLBACK_MODEL"`
	FallbackAPIKey  string `env:"LLM_FALLBACK_API_KEY"`
	FallbackBaseURL string `env:"LLM_FALLBACK_BASE_URL"`

	// RetrievalK is how many grounding chunks handlers request.
	RetrievalK int `env:"RETRIEVAL_TOP_K, default=5"`
}

// Features are the per-installation toggles read by handlers.
type Features struct {
	PRSummary         bool `json:"pr_summary"`
	FileSummary       bool `json:"file_summary"`
	ReviewSuggestions bool `json:"review_suggestions"`
	Scoring           bool `json:"scoring"`
	CommentAutoReply  bool `json:"comment_auto_reply"`
	CommentReplyAll   bool `json:"comment_reply_all"`
	CommitTrigger     bool `json:"commit_trigger"`
	// EmailReports gates completed-run notifications. Off unless an
	// installation opts in.
	EmailReports bool `json:"email_reports"`
}

// DefaultFeatures enables the full pipeline.
func DefaultFeatures() Features {
	return Features{
		PRSummary:         true,
		FileSummary:       true,
		ReviewSuggestions: true,
		Scoring:           true,
		CommentAutoReply:  true,
		CommentReplyAll:   true,
		CommitTrigger:     true,
	}
}

// Installation is the per-tenant configuration handed to handlers. It is
// constructed once per lookup and never mutated by handlers.
type Installation struct {
	ID       int64    `json:"id"`
	Locale   string   `json:"locale"`
	Features Features `json:"features"`
	// Model overrides the service-wide primary model when set.
	Model string `json:"model,omitempty"`
}
