/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ledger is the durable record of webhook deliveries and the
// automation runs they produce. It owns admission (idempotency), the
// delivery state machine, and persistence of run artifacts.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"chainguard.dev/fossmate/events"
)

// State is the lifecycle state of a delivery record.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// next reports whether a transition from s to the given state moves forward
// through the lifecycle. Backward and skipping transitions are rejected.
func (s State) next(to State) bool {
	switch s {
	case StateQueued:
		return to == StateProcessing
	case StateProcessing:
		return to == StateDone || to == StateFailed
	default:
		return false
	}
}

// RunStatus is the outcome of one automation run.
type RunStatus string

const (
	RunDone    RunStatus = "done"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

var (
	// ErrNotFound is returned when a record or run does not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrStaleTransition is returned when the expected prior state does not
	// match the persisted state. It signals a duplicate claim; callers drop
	// the claim rather than surfacing the error.
	ErrStaleTransition = errors.New("ledger: stale transition")

	// ErrNotReplayable is returned when a replay is requested for a record
	// that is not in the failed state and force was not set.
	ErrNotReplayable = errors.New("ledger: record is not replayable")
)

// Transition is one audited state change on a record.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Cause string    `json:"cause,omitempty"`
	At    time.Time `json:"at"`
}

// Record tracks one admitted delivery through the pipeline.
type Record struct {
	ID        string            `json:"id"`
	Key       string            `json:"key"`
	Event     *events.Normalized `json:"event"`
	State     State             `json:"state"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	History   []Transition      `json:"history,omitempty"`
}

// Run is the result of handling one delivery record.
type Run struct {
	ID         string        `json:"id"`
	RecordID   string        `json:"record_id"`
	Handler    string        `json:"handler"`
	Status     RunStatus     `json:"status"`
	Summary    string        `json:"summary,omitempty"`
	Cause      string        `json:"cause,omitempty"`
	Duration   time.Duration `json:"duration"`
	Superseded bool          `json:"superseded,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Finding is one ordered suggestion or annotation attached to a run.
type Finding struct {
	RunID    string `json:"run_id"`
	Ordinal  int    `json:"ordinal"`
	Path     string `json:"path,omitempty"`
	Title    string `json:"title"`
	Details  string `json:"details"`
	Severity string `json:"severity"`
}

// ScoreCard holds the advisory dimension scores attached to a run.
type ScoreCard struct {
	RunID           string  `json:"run_id"`
	Correctness     float64 `json:"correctness"`
	Readability     float64 `json:"readability"`
	Maintainability float64 `json:"maintainability"`
	Overall         float64 `json:"overall"`
	AdvisoryOnly    bool    `json:"advisory_only"`
}

// DeveloperMetric is one per-developer measurement written alongside a
// score card. Rows are append-only; reports aggregate over them.
type DeveloperMetric struct {
	InstallationID  int64     `json:"installation_id,omitempty"`
	RepoFullName    string    `json:"repo_full_name,omitempty"`
	Login           string    `json:"login"`
	RunID           string    `json:"run_id"`
	Correctness     float64   `json:"correctness"`
	Readability     float64   `json:"readability"`
	Maintainability float64   `json:"maintainability"`
	Overall         float64   `json:"overall"`
	MeasuredAt      time.Time `json:"measured_at"`
}

// DeveloperEvaluation is the aggregated view of one developer's metrics
// over a report window.
type DeveloperEvaluation struct {
	Login              string  `json:"developer_login"`
	ReviewCount        int     `json:"review_count"`
	AvgCorrectness     float64 `json:"avg_correctness"`
	AvgReadability     float64 `json:"avg_readability"`
	AvgMaintainability float64 `json:"avg_maintainability"`
	AvgOverall         float64 `json:"avg_overall"`
}

// Store is the persistence contract for the delivery ledger. All methods
// must be safe for concurrent use.
type Store interface {
	// Admit persists the event and creates a record in the queued state.
	// If a record with the same idempotency key exists, the existing record
	// is returned with created=false and nothing is written.
	Admit(ctx context.Context, ev *events.Normalized, key string) (rec *Record, created bool, err error)

	// Get returns the record with the given ID.
	Get(ctx context.Context, id string) (*Record, error)

	// GetByKey returns the record with the given idempotency key.
	GetByKey(ctx context.Context, key string) (*Record, error)

	// Transition moves a record from one state to the next. Returns
	// ErrStaleTransition without changing anything if the persisted state
	// does not match from, or if the step is not a forward transition.
	Transition(ctx context.Context, id string, from, to State, cause error) (*Record, error)

	// Requeue resets a failed record to queued for replay. Records in any
	// other state return ErrNotReplayable unless force is set.
	Requeue(ctx context.Context, id string, force bool) (*Record, error)

	// IncrementAttempts bumps and returns the attempt counter.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// SaveRun persists a run for a record, superseding any prior run.
	SaveRun(ctx context.Context, run *Run) error

	// LatestRun returns the current (non-superseded) run for a record.
	LatestRun(ctx context.Context, recordID string) (*Run, error)

	// AttachFindings appends findings to an existing run.
	AttachFindings(ctx context.Context, runID string, findings []Finding) error

	// AttachScoreCard sets the score card for an existing run.
	AttachScoreCard(ctx context.Context, runID string, sc *ScoreCard) error

	// FindingsFor returns findings in ordinal order.
	FindingsFor(ctx context.Context, runID string) ([]Finding, error)

	// ScoreCardFor returns the score card, or ErrNotFound.
	ScoreCardFor(ctx context.Context, runID string) (*ScoreCard, error)

	// RecordDeveloperMetric appends a per-developer measurement.
	RecordDeveloperMetric(ctx context.Context, m *DeveloperMetric) error

	// DeveloperEvaluation aggregates metrics measured at or after since,
	// grouped by developer login and ordered by descending average overall
	// score. Zero installationID and empty login match everything.
	DeveloperEvaluation(ctx context.Context, installationID int64, login string, since time.Time) ([]DeveloperEvaluation, error)
}

// IdempotencyKey derives the deduplication key for a delivery. The source
// delivery ID alone is insufficient: redeliveries of distinct event types
// can share one, so the event type and action are folded in.
func IdempotencyKey(deliveryID, eventType, action string) string {
	h := sha256.New()
	h.Write([]byte(deliveryID))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(action))
	return hex.EncodeToString(h.Sum(nil))
}
