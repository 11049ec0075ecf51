/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/fossmate/events"
)

func testEvent(delivery string) *events.Normalized {
	return &events.Normalized{
		Platform:   "github",
		DeliveryID: delivery,
		EventType:  "issues",
		Action:     "opened",
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("d1", "issues", "opened")
	b := IdempotencyKey("d1", "issues", "opened")
	if a != b {
		t.Errorf("same inputs produced different keys: %q vs %q", a, b)
	}
	// The separator matters: concatenation collisions must not dedupe.
	if IdempotencyKey("d1", "issuesopened", "") == a {
		t.Error("distinct inputs collided")
	}
	if IdempotencyKey("d1", "issues", "closed") == a {
		t.Error("action not folded into key")
	}
}

func TestAdmit_DuplicateReturnsExisting(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	key := IdempotencyKey("d1", "issues", "opened")

	first, created, err := s.Admit(ctx, testEvent("d1"), key)
	if err != nil || !created {
		t.Fatalf("Admit() = %v, created=%v", err, created)
	}

	second, created, err := s.Admit(ctx, testEvent("d1"), key)
	if err != nil {
		t.Fatalf("Admit() duplicate = %v", err)
	}
	if created {
		t.Error("duplicate admission reported created=true")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate returned different record: %q vs %q", second.ID, first.ID)
	}
}

func TestAdmit_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	key := IdempotencyKey("d1", "issues", "opened")

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	ids := map[string]bool{}

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, created, err := s.Admit(ctx, testEvent("d1"), key)
			if err != nil {
				t.Errorf("Admit() = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if created {
				createdCount++
			}
			ids[rec.ID] = true
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("created %d records, want 1", createdCount)
	}
	if len(ids) != 1 {
		t.Errorf("observed %d distinct record IDs, want 1", len(ids))
	}
}

func TestTransition_Order(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	rec, _, err := s.Admit(ctx, testEvent("d1"), "k1")
	if err != nil {
		t.Fatal(err)
	}

	// Skipping processing is rejected.
	if _, err := s.Transition(ctx, rec.ID, StateQueued, StateDone, nil); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("queued->done = %v, want ErrStaleTransition", err)
	}

	if _, err := s.Transition(ctx, rec.ID, StateQueued, StateProcessing, nil); err != nil {
		t.Fatalf("queued->processing = %v", err)
	}

	// A second claim attempting the same transition observes staleness.
	if _, err := s.Transition(ctx, rec.ID, StateQueued, StateProcessing, nil); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("duplicate queued->processing = %v, want ErrStaleTransition", err)
	}

	got, err := s.Transition(ctx, rec.ID, StateProcessing, StateDone, nil)
	if err != nil {
		t.Fatalf("processing->done = %v", err)
	}
	if got.State != StateDone {
		t.Errorf("state = %s, want done", got.State)
	}

	// Terminal states admit no further transitions.
	if _, err := s.Transition(ctx, rec.ID, StateDone, StateProcessing, nil); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("done->processing = %v, want ErrStaleTransition", err)
	}

	if len(got.History) != 3 {
		t.Errorf("history length = %d, want 3 (admit + two transitions)", len(got.History))
	}
}

func TestTransition_StaleLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	rec, _, _ := s.Admit(ctx, testEvent("d1"), "k1")

	if _, err := s.Transition(ctx, rec.ID, StateProcessing, StateDone, nil); err == nil {
		t.Fatal("expected stale transition error")
	}
	got, _ := s.Get(ctx, rec.ID)
	if got.State != StateQueued {
		t.Errorf("state mutated to %s by a rejected transition", got.State)
	}
}

func TestTransition_FailureRecordsCause(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	rec, _, _ := s.Admit(ctx, testEvent("d1"), "k1")
	s.Transition(ctx, rec.ID, StateQueued, StateProcessing, nil)

	got, err := s.Transition(ctx, rec.ID, StateProcessing, StateFailed, errors.New("provider exploded"))
	if err != nil {
		t.Fatal(err)
	}
	if got.LastError != "provider exploded" {
		t.Errorf("last error = %q", got.LastError)
	}
	last := got.History[len(got.History)-1]
	if last.Cause != "provider exploded" {
		t.Errorf("history cause = %q", last.Cause)
	}
}

func TestRequeue(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	rec, _, _ := s.Admit(ctx, testEvent("d1"), "k1")
	s.Transition(ctx, rec.ID, StateQueued, StateProcessing, nil)

	// Processing records are not replayable without force.
	if _, err := s.Requeue(ctx, rec.ID, false); !errors.Is(err, ErrNotReplayable) {
		t.Errorf("Requeue(processing) = %v, want ErrNotReplayable", err)
	}

	s.Transition(ctx, rec.ID, StateProcessing, StateFailed, errors.New("boom"))
	s.IncrementAttempts(ctx, rec.ID)

	got, err := s.Requeue(ctx, rec.ID, false)
	if err != nil {
		t.Fatalf("Requeue(failed) = %v", err)
	}
	if got.State != StateQueued || got.Attempts != 0 || got.LastError != "" {
		t.Errorf("requeued record = %+v, want reset to queued", got)
	}

	// A fresh cycle proceeds normally.
	if _, err := s.Transition(ctx, got.ID, StateQueued, StateProcessing, nil); err != nil {
		t.Errorf("post-replay transition = %v", err)
	}
}

func TestRequeue_ForceOverridesTerminalState(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	rec, _, _ := s.Admit(ctx, testEvent("d1"), "k1")
	s.Transition(ctx, rec.ID, StateQueued, StateProcessing, nil)
	s.Transition(ctx, rec.ID, StateProcessing, StateDone, nil)

	if _, err := s.Requeue(ctx, rec.ID, false); !errors.Is(err, ErrNotReplayable) {
		t.Errorf("Requeue(done) = %v, want ErrNotReplayable", err)
	}
	got, err := s.Requeue(ctx, rec.ID, true)
	if err != nil {
		t.Fatalf("Requeue(done, force) = %v", err)
	}
	if got.State != StateQueued {
		t.Errorf("state = %s, want queued", got.State)
	}
}

func TestSaveRun_SupersedesPrior(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	rec, _, _ := s.Admit(ctx, testEvent("d1"), "k1")

	first := &Run{RecordID: rec.ID, Handler: "issue-opened", Status: RunFailed}
	if err := s.SaveRun(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &Run{RecordID: rec.ID, Handler: "issue-opened", Status: RunDone}
	if err := s.SaveRun(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.LatestRun(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second.ID || got.Status != RunDone || got.Superseded {
		t.Errorf("latest run = %+v, want second run, non-superseded", got)
	}
}

func TestSaveRun_UnknownRecord(t *testing.T) {
	s := NewInMemory()
	err := s.SaveRun(context.Background(), &Run{RecordID: "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveRun() = %v, want ErrNotFound", err)
	}
}

func TestFindingsAndScoreCard_RequireRun(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	rec, _, _ := s.Admit(ctx, testEvent("d1"), "k1")
	run := &Run{RecordID: rec.ID, Handler: "pull-request", Status: RunDone}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	if err := s.AttachFindings(ctx, "missing", []Finding{{Title: "x"}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AttachFindings(missing run) = %v, want ErrNotFound", err)
	}
	if err := s.AttachScoreCard(ctx, "missing", &ScoreCard{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AttachScoreCard(missing run) = %v, want ErrNotFound", err)
	}

	if err := s.AttachFindings(ctx, run.ID, []Finding{
		{Title: "first", Severity: "low"},
		{Title: "second", Severity: "high"},
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.FindingsFor(ctx, run.ID)
	if len(got) != 2 || got[0].Ordinal != 0 || got[1].Ordinal != 1 {
		t.Errorf("findings = %+v, want two ordered rows", got)
	}

	if err := s.AttachScoreCard(ctx, run.ID, &ScoreCard{Overall: 7.5, AdvisoryOnly: true}); err != nil {
		t.Fatal(err)
	}
	sc, err := s.ScoreCardFor(ctx, run.ID)
	if err != nil || sc.Overall != 7.5 {
		t.Errorf("score card = %+v, %v", sc, err)
	}
}

func TestDeveloperMetrics_Aggregation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	now := time.Now().UTC()
	for _, m := range []DeveloperMetric{
		{InstallationID: 1, Login: "alice", RunID: "r1", Correctness: 8, Readability: 8, Maintainability: 8, Overall: 8, MeasuredAt: now},
		{InstallationID: 1, Login: "alice", RunID: "r2", Correctness: 6, Readability: 6, Maintainability: 6, Overall: 6, MeasuredAt: now},
		{InstallationID: 1, Login: "bob", RunID: "r3", Correctness: 9, Readability: 9, Maintainability: 9, Overall: 9, MeasuredAt: now},
		{InstallationID: 2, Login: "carol", RunID: "r4", Overall: 10, MeasuredAt: now},
		{InstallationID: 1, Login: "alice", RunID: "r0", Overall: 1, MeasuredAt: now.AddDate(0, 0, -60)},
	} {
		m := m
		if err := s.RecordDeveloperMetric(ctx, &m); err != nil {
			t.Fatalf("RecordDeveloperMetric() = %v", err)
		}
	}

	since := now.AddDate(0, 0, -30)

	got, err := s.DeveloperEvaluation(ctx, 1, "", since)
	if err != nil {
		t.Fatalf("DeveloperEvaluation() = %v", err)
	}
	want := []DeveloperEvaluation{
		{Login: "bob", ReviewCount: 1, AvgCorrectness: 9, AvgReadability: 9, AvgMaintainability: 9, AvgOverall: 9},
		{Login: "alice", ReviewCount: 2, AvgCorrectness: 7, AvgReadability: 7, AvgMaintainability: 7, AvgOverall: 7},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("evaluation (-want, +got):\n%s", diff)
	}

	// Login filter narrows to one developer.
	got, err = s.DeveloperEvaluation(ctx, 1, "alice", since)
	if err != nil {
		t.Fatalf("DeveloperEvaluation() = %v", err)
	}
	if len(got) != 1 || got[0].Login != "alice" || got[0].ReviewCount != 2 {
		t.Errorf("evaluation = %+v, want alice with 2 reviews", got)
	}

	// Zero installation ID matches everything.
	got, err = s.DeveloperEvaluation(ctx, 0, "", since)
	if err != nil {
		t.Fatalf("DeveloperEvaluation() = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d developers, want 3", len(got))
	}
	if got[0].Login != "carol" {
		t.Errorf("top developer = %q, want carol (highest average)", got[0].Login)
	}
}

func TestRecordDeveloperMetric_RequiresLogin(t *testing.T) {
	s := NewInMemory()
	if err := s.RecordDeveloperMetric(context.Background(), &DeveloperMetric{RunID: "r1"}); err == nil {
		t.Error("RecordDeveloperMetric() = nil, want error for missing login")
	}
}

func TestRecordDeveloperMetric_DefaultsMeasuredAt(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	if err := s.RecordDeveloperMetric(ctx, &DeveloperMetric{Login: "alice", RunID: "r1", Overall: 5}); err != nil {
		t.Fatalf("RecordDeveloperMetric() = %v", err)
	}
	got, err := s.DeveloperEvaluation(ctx, 0, "alice", time.Now().UTC().Add(-time.Minute))
	if err != nil || len(got) != 1 {
		t.Fatalf("DeveloperEvaluation() = %+v, %v, want the fresh metric visible", got, err)
	}
}
