/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chainguard.dev/fossmate/events"
	"github.com/google/uuid"
)

// InMemory is the Store implementation used in the single-process
// configuration. Durable backends implement the same interface.
type InMemory struct {
	mu       sync.Mutex
	byID     map[string]*Record
	byKey    map[string]string // idempotency key -> record ID
	runs     map[string]*Run   // run ID -> run
	latest   map[string]string // record ID -> current run ID
	findings map[string][]Finding
	scores   map[string]*ScoreCard
	metrics  []DeveloperMetric
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty in-memory ledger store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:     map[string]*Record{},
		byKey:    map[string]string{},
		runs:     map[string]*Run{},
		latest:   map[string]string{},
		findings: map[string][]Finding{},
		scores:   map[string]*ScoreCard{},
	}
}

func (s *InMemory) Admit(_ context.Context, ev *events.Normalized, key string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		return snapshot(s.byID[id]), false, nil
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		Key:       key,
		Event:     ev,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
		History:   []Transition{{To: StateQueued, At: now}},
	}
	s.byID[rec.ID] = rec
	s.byKey[key] = rec.ID
	return snapshot(rec), true, nil
}

func (s *InMemory) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(rec), nil
}

func (s *InMemory) GetByKey(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(s.byID[id]), nil
}

func (s *InMemory) Transition(_ context.Context, id string, from, to State, cause error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.State != from || !from.next(to) {
		return nil, fmt.Errorf("%w: %s -> %s (current %s)", ErrStaleTransition, from, to, rec.State)
	}

	now := time.Now().UTC()
	tr := Transition{From: from, To: to, At: now}
	if cause != nil {
		tr.Cause = cause.Error()
		rec.LastError = cause.Error()
	} else if to == StateDone {
		rec.LastError = ""
	}
	rec.State = to
	rec.UpdatedAt = now
	rec.History = append(rec.History, tr)
	return snapshot(rec), nil
}

func (s *InMemory) Requeue(_ context.Context, id string, force bool) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.State == StateQueued {
		// Already awaiting a claim; nothing to reset.
		return snapshot(rec), nil
	}
	if rec.State != StateFailed && !force {
		return nil, fmt.Errorf("%w: state is %s", ErrNotReplayable, rec.State)
	}

	now := time.Now().UTC()
	rec.History = append(rec.History, Transition{From: rec.State, To: StateQueued, At: now})
	rec.State = StateQueued
	rec.Attempts = 0
	rec.LastError = ""
	rec.UpdatedAt = now
	return snapshot(rec), nil
}

func (s *InMemory) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	rec.Attempts++
	rec.UpdatedAt = time.Now().UTC()
	return rec.Attempts, nil
}

func (s *InMemory) SaveRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[run.RecordID]; !ok {
		return fmt.Errorf("saving run: record %q: %w", run.RecordID, ErrNotFound)
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if prior, ok := s.latest[run.RecordID]; ok {
		s.runs[prior].Superseded = true
	}
	cp := *run
	s.runs[cp.ID] = &cp
	s.latest[run.RecordID] = cp.ID
	return nil
}

func (s *InMemory) LatestRun(_ context.Context, recordID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.latest[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.runs[id]
	return &cp, nil
}

func (s *InMemory) AttachFindings(_ context.Context, runID string, findings []Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("attaching findings: run %q: %w", runID, ErrNotFound)
	}
	existing := s.findings[runID]
	for i := range findings {
		f := findings[i]
		f.RunID = runID
		f.Ordinal = len(existing)
		existing = append(existing, f)
	}
	s.findings[runID] = existing
	return nil
}

func (s *InMemory) AttachScoreCard(_ context.Context, runID string, sc *ScoreCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("attaching score card: run %q: %w", runID, ErrNotFound)
	}
	cp := *sc
	cp.RunID = runID
	s.scores[runID] = &cp
	return nil
}

func (s *InMemory) FindingsFor(_ context.Context, runID string) ([]Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Finding, len(s.findings[runID]))
	copy(out, s.findings[runID])
	return out, nil
}

func (s *InMemory) ScoreCardFor(_ context.Context, runID string) (*ScoreCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scores[runID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *InMemory) RecordDeveloperMetric(_ context.Context, m *DeveloperMetric) error {
	if m.Login == "" {
		return fmt.Errorf("recording developer metric: login is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	if cp.MeasuredAt.IsZero() {
		cp.MeasuredAt = time.Now().UTC()
	}
	s.metrics = append(s.metrics, cp)
	return nil
}

func (s *InMemory) DeveloperEvaluation(_ context.Context, installationID int64, login string, since time.Time) ([]DeveloperEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sums := map[string]*DeveloperEvaluation{}
	for _, m := range s.metrics {
		if m.MeasuredAt.Before(since) {
			continue
		}
		if installationID != 0 && m.InstallationID != installationID {
			continue
		}
		if login != "" && m.Login != login {
			continue
		}
		agg, ok := sums[m.Login]
		if !ok {
			agg = &DeveloperEvaluation{Login: m.Login}
			sums[m.Login] = agg
		}
		agg.ReviewCount++
		agg.AvgCorrectness += m.Correctness
		agg.AvgReadability += m.Readability
		agg.AvgMaintainability += m.Maintainability
		agg.AvgOverall += m.Overall
	}

	out := make([]DeveloperEvaluation, 0, len(sums))
	for _, agg := range sums {
		n := float64(agg.ReviewCount)
		agg.AvgCorrectness /= n
		agg.AvgReadability /= n
		agg.AvgMaintainability /= n
		agg.AvgOverall /= n
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgOverall != out[j].AvgOverall {
			return out[i].AvgOverall > out[j].AvgOverall
		}
		return out[i].Login < out[j].Login
	})
	return out, nil
}

// snapshot copies a record so callers never observe later mutations. The
// event pointer is shared; events are write-once.
func snapshot(rec *Record) *Record {
	cp := *rec
	cp.History = append([]Transition(nil), rec.History...)
	return &cp
}
