/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package actuator applies outbound side effects (comments, labels, check
// statuses) to the origin platform. All operations are idempotent under
// retry: comments are keyed by a stable marker and updated in place.
package actuator

import (
	"context"
	"errors"
	"fmt"
)

// Target identifies where a side effect lands.
type Target struct {
	Owner   string
	Repo    string
	Number  int    // issue or PR number
	HeadSHA string // required for check statuses
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s#%d", t.Owner, t.Repo, t.Number)
}

// CheckStatus is the advisory conclusion reported on a head commit.
type CheckStatus string

const (
	CheckNeutral CheckStatus = "neutral"
	CheckSuccess CheckStatus = "success"
	CheckFailure CheckStatus = "failure"
)

// ErrPermissionDenied marks a terminal authorization failure from the
// origin platform. It is never retried; callers surface it as the run's
// failure cause.
var ErrPermissionDenied = errors.New("actuator: permission denied")

// Actuator is the outbound side-effect contract.
type Actuator interface {
	// UpsertComment creates or updates the comment carrying marker on the
	// target. Re-invocation with the same marker updates the prior comment
	// rather than posting a duplicate.
	UpsertComment(ctx context.Context, target Target, marker, body string) error

	// ApplyLabels adds labels to the target issue or PR.
	ApplyLabels(ctx context.Context, target Target, labels []string) error

	// SetCheckStatus creates or updates the named check run on the
	// target's head commit.
	SetCheckStatus(ctx context.Context, target Target, status CheckStatus, detail string) error
}
