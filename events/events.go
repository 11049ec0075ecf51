/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package events defines the normalized, platform-agnostic event shape that
// the rest of the pipeline consumes, along with normalization from raw
// GitHub webhook payloads.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Normalized is the platform-agnostic view of one webhook delivery.
// The raw payload is retained verbatim; everything else is extracted once at
// admission so handlers never re-parse vendor JSON.
type Normalized struct {
	Platform       string          `json:"platform"`
	DeliveryID     string          `json:"delivery_id"`
	EventType      string          `json:"event_type"`
	Action         string          `json:"action"`
	InstallationID int64           `json:"installation_id,omitempty"`
	Owner          string          `json:"owner,omitempty"`
	Repo           string          `json:"repo,omitempty"`
	RepoFullName   string          `json:"repo_full_name,omitempty"`
	PRNumber       int             `json:"pr_number,omitempty"`
	PRTitle        string          `json:"pr_title,omitempty"`
	IssueNumber    int             `json:"issue_number,omitempty"`
	IssueTitle     string          `json:"issue_title,omitempty"`
	IssueBody      string          `json:"issue_body,omitempty"`
	CommentID      int64           `json:"comment_id,omitempty"`
	CommentBody    string          `json:"comment_body,omitempty"`
	SenderLogin    string          `json:"sender_login,omitempty"`
	SenderType     string          `json:"sender_type,omitempty"`
	HeadSHA        string          `json:"head_sha,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Payload        json.RawMessage `json:"payload"`
}

// githubEnvelope mirrors the subset of a GitHub webhook payload the pipeline
// cares about.
type githubEnvelope struct {
	Action     string `json:"action"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	PullRequest struct {
		Number    int    `json:"number"`
		Title     string `json:"title"`
		UpdatedAt string `json:"updated_at"`
		CreatedAt string `json:"created_at"`
		Head      struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Issue struct {
		Number    int    `json:"number"`
		Title     string `json:"title"`
		Body      string `json:"body"`
		UpdatedAt string `json:"updated_at"`
		CreatedAt string `json:"created_at"`
	} `json:"issue"`
	Comment struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	} `json:"comment"`
	Sender struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"sender"`
}

// NormalizeGitHub extracts the normalized view from a raw GitHub webhook
// payload. Unknown or missing fields are left zero; handlers are expected to
// validate what they need.
func NormalizeGitHub(eventType, deliveryID string, payload []byte) (*Normalized, error) {
	var env githubEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parsing webhook payload: %w", err)
	}

	action := env.Action
	if action == "" {
		action = "unknown"
	}

	occurred := time.Now().UTC()
	for _, raw := range []string{
		env.PullRequest.UpdatedAt, env.PullRequest.CreatedAt,
		env.Issue.UpdatedAt, env.Issue.CreatedAt,
	} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			occurred = ts
			break
		}
	}

	return &Normalized{
		Platform:       "github",
		DeliveryID:     deliveryID,
		EventType:      eventType,
		Action:         action,
		InstallationID: env.Installation.ID,
		Owner:          env.Repository.Owner.Login,
		Repo:           env.Repository.Name,
		RepoFullName:   env.Repository.FullName,
		PRNumber:       env.PullRequest.Number,
		PRTitle:        env.PullRequest.Title,
		IssueNumber:    env.Issue.Number,
		IssueTitle:     env.Issue.Title,
		IssueBody:      env.Issue.Body,
		CommentID:      env.Comment.ID,
		CommentBody:    env.Comment.Body,
		SenderLogin:    env.Sender.Login,
		SenderType:     env.Sender.Type,
		HeadSHA:        env.PullRequest.Head.SHA,
		OccurredAt:     occurred,
		Payload:        json.RawMessage(payload),
	}, nil
}

// TargetNumber returns the issue or PR number the event refers to,
// preferring the issue number (comment events carry both shapes).
func (n *Normalized) TargetNumber() int {
	if n.IssueNumber != 0 {
		return n.IssueNumber
	}
	return n.PRNumber
}
