/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ingress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-github/v75/github"

	"chainguard.dev/fossmate/ledger"
	"chainguard.dev/fossmate/workqueue"
)

const testSecret = "hunter2"

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func issuePayload() []byte {
	return []byte(`{
		"action": "opened",
		"repository": {"name": "widgets", "full_name": "acme/widgets", "owner": {"login": "acme"}},
		"installation": {"id": 42},
		"issue": {"number": 7, "title": "Crash on empty input", "body": "panic"},
		"sender": {"login": "alice", "type": "User"}
	}`)
}

func newTestServer() (*Server, *ledger.InMemory, *workqueue.Queue) {
	store := ledger.NewInMemory()
	queue := workqueue.New(16)
	return NewServer(store, queue, testSecret), store, queue
}

func postWebhook(t *testing.T, mux http.Handler, deliveryID string, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
	req.Header.Set(github.DeliveryIDHeader, deliveryID)
	req.Header.Set(github.EventTypeHeader, "issues")
	req.Header.Set(github.SHA256SignatureHeader, signature)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestWebhookAdmitsAndEnqueues(t *testing.T) {
	srv, store, queue := newTestServer()
	mux := srv.Mux()

	payload := issuePayload()
	rr := postWebhook(t, mux, "d-1", payload, sign(payload))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body)
	}

	var resp webhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "accepted" || resp.RecordID == "" {
		t.Errorf("response = %+v", resp)
	}

	rec, err := store.Get(context.Background(), resp.RecordID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec.State != ledger.StateQueued {
		t.Errorf("State = %q, want %q", rec.State, ledger.StateQueued)
	}
	if rec.Event.Owner != "acme" || rec.Event.IssueNumber != 7 {
		t.Errorf("normalized event = %+v", rec.Event)
	}
	if queue.Depth() != 1 {
		t.Errorf("queue depth = %d, want 1", queue.Depth())
	}
}

func TestWebhookDuplicateDeliveryAcknowledgedOnce(t *testing.T) {
	srv, _, queue := newTestServer()
	mux := srv.Mux()
	payload := issuePayload()

	first := postWebhook(t, mux, "d-1", payload, sign(payload))
	second := postWebhook(t, mux, "d-1", payload, sign(payload))

	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("statuses = %d, %d, want both %d", first.Code, second.Code, http.StatusAccepted)
	}

	var r1, r2 webhookResponse
	_ = json.Unmarshal(first.Body.Bytes(), &r1)
	_ = json.Unmarshal(second.Body.Bytes(), &r2)
	if r2.Status != "duplicate" {
		t.Errorf("second status = %q, want duplicate", r2.Status)
	}
	if r1.RecordID != r2.RecordID {
		t.Errorf("record IDs differ: %q vs %q", r1.RecordID, r2.RecordID)
	}
	if queue.Depth() != 1 {
		t.Errorf("queue depth = %d, want 1 (duplicate not enqueued)", queue.Depth())
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	srv, store, queue := newTestServer()
	mux := srv.Mux()
	payload := issuePayload()

	rr := postWebhook(t, mux, "d-1", payload, "sha256=deadbeef")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if queue.Depth() != 0 {
		t.Errorf("queue depth = %d, want 0", queue.Depth())
	}
	key := ledger.IdempotencyKey("d-1", "issues", "opened")
	if _, err := store.GetByKey(context.Background(), key); err == nil {
		t.Error("record admitted despite invalid signature")
	}
}

func TestWebhookRejectsMissingHeaders(t *testing.T) {
	srv, _, _ := newTestServer()
	mux := srv.Mux()
	payload := issuePayload()

	for _, tc := range []struct {
		name string
		req  func() *http.Request
	}{{
		name: "no delivery id",
		req: func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
			req.Header.Set(github.EventTypeHeader, "issues")
			req.Header.Set(github.SHA256SignatureHeader, sign(payload))
			return req
		},
	}, {
		name: "no event type",
		req: func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
			req.Header.Set(github.DeliveryIDHeader, "d-1")
			req.Header.Set(github.SHA256SignatureHeader, sign(payload))
			return req
		},
	}, {
		name: "empty body",
		req: func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(nil))
			req.Header.Set(github.DeliveryIDHeader, "d-1")
			req.Header.Set(github.EventTypeHeader, "issues")
			req.Header.Set(github.SHA256SignatureHeader, sign(nil))
			return req
		},
	}} {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, tc.req())
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestDeliveryStatusEndpoint(t *testing.T) {
	srv, store, _ := newTestServer()
	mux := srv.Mux()
	payload := issuePayload()

	rr := postWebhook(t, mux, "d-1", payload, sign(payload))
	var resp webhookResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)

	req := httptest.NewRequest(http.MethodGet, "/admin/deliveries/"+resp.RecordID, nil)
	out := httptest.NewRecorder()
	mux.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", out.Code, http.StatusOK)
	}

	var status deliveryStatus
	if err := json.Unmarshal(out.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Record.State != ledger.StateQueued {
		t.Errorf("record state = %q, want %q", status.Record.State, ledger.StateQueued)
	}

	// A run shows up in the status once the record settles.
	_, _ = store.Transition(context.Background(), resp.RecordID, ledger.StateQueued, ledger.StateProcessing, nil)
	_ = store.SaveRun(context.Background(), &ledger.Run{RecordID: resp.RecordID, Handler: "issue-summary", Status: ledger.RunDone})

	out = httptest.NewRecorder()
	mux.ServeHTTP(out, req)
	_ = json.Unmarshal(out.Body.Bytes(), &status)
	if status.Run == nil || status.Run.Handler != "issue-summary" {
		t.Errorf("run = %+v, want latest run included", status.Run)
	}
}

func TestDeliveryStatusUnknownID(t *testing.T) {
	srv, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/deliveries/nope", nil)
	rr := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestReplayEndpoint(t *testing.T) {
	srv, store, queue := newTestServer()
	mux := srv.Mux()
	payload := issuePayload()

	rr := postWebhook(t, mux, "d-1", payload, sign(payload))
	var resp webhookResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)

	// Drain the admission enqueue so replay can re-enqueue the key.
	claim, ok := queue.Claim(context.Background())
	if !ok {
		t.Fatal("no claim after admission")
	}
	queue.Release(claim.Key)

	ctx := context.Background()
	_, _ = store.Transition(ctx, resp.RecordID, ledger.StateQueued, ledger.StateProcessing, nil)
	_, _ = store.Transition(ctx, resp.RecordID, ledger.StateProcessing, ledger.StateFailed, fmt.Errorf("provider down"))

	req := httptest.NewRequest(http.MethodPost, "/admin/deliveries/"+resp.RecordID+"/replay", nil)
	out := httptest.NewRecorder()
	mux.ServeHTTP(out, req)
	if out.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", out.Code, http.StatusAccepted, out.Body)
	}

	rec, err := store.Get(ctx, resp.RecordID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec.State != ledger.StateQueued {
		t.Errorf("State = %q, want %q after replay", rec.State, ledger.StateQueued)
	}
	if queue.Depth() != 1 {
		t.Errorf("queue depth = %d, want 1", queue.Depth())
	}
}

func TestReplayRequiresFailedStateUnlessForced(t *testing.T) {
	srv, store, queue := newTestServer()
	mux := srv.Mux()
	payload := issuePayload()

	rr := postWebhook(t, mux, "d-1", payload, sign(payload))
	var resp webhookResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)

	claim, _ := queue.Claim(context.Background())
	queue.Release(claim.Key)

	ctx := context.Background()
	_, _ = store.Transition(ctx, resp.RecordID, ledger.StateQueued, ledger.StateProcessing, nil)
	_, _ = store.Transition(ctx, resp.RecordID, ledger.StateProcessing, ledger.StateDone, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/deliveries/"+resp.RecordID+"/replay", nil)
	out := httptest.NewRecorder()
	mux.ServeHTTP(out, req)
	if out.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d for done record", out.Code, http.StatusConflict)
	}

	// The conflict response reports the record's current state.
	var conflict webhookResponse
	if err := json.Unmarshal(out.Body.Bytes(), &conflict); err != nil {
		t.Fatalf("decoding conflict response: %v", err)
	}
	if conflict.Status != "not-replayable" || conflict.State != string(ledger.StateDone) {
		t.Errorf("conflict response = %+v, want not-replayable in state done", conflict)
	}

	forced := httptest.NewRequest(http.MethodPost, "/admin/deliveries/"+resp.RecordID+"/replay?force=true", nil)
	out = httptest.NewRecorder()
	mux.ServeHTTP(out, forced)
	if out.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d for forced replay", out.Code, http.StatusAccepted)
	}

	rec, _ := store.Get(ctx, resp.RecordID)
	if rec.State != ledger.StateQueued {
		t.Errorf("State = %q, want %q after forced replay", rec.State, ledger.StateQueued)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestDeveloperEvaluationReport(t *testing.T) {
	srv, store, _ := newTestServer()
	mux := srv.Mux()
	ctx := context.Background()

	now := time.Now().UTC()
	for _, m := range []ledger.DeveloperMetric{
		{InstallationID: 42, Login: "alice", RunID: "r1", Correctness: 8, Readability: 8, Maintainability: 8, Overall: 8, MeasuredAt: now},
		{InstallationID: 42, Login: "alice", RunID: "r2", Correctness: 6, Readability: 6, Maintainability: 6, Overall: 6, MeasuredAt: now},
		{InstallationID: 99, Login: "bob", RunID: "r3", Overall: 9, MeasuredAt: now},
	} {
		m := m
		if err := store.RecordDeveloperMetric(ctx, &m); err != nil {
			t.Fatalf("RecordDeveloperMetric() = %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/reports/developer-evaluation?installation_id=42&days=30", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body)
	}

	var report developerReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Days != 30 || report.InstallationID != 42 {
		t.Errorf("report window = %+v", report)
	}
	if len(report.Results) != 1 {
		t.Fatalf("got %d results, want 1 (installation filter applied)", len(report.Results))
	}
	row := report.Results[0]
	if row.Login != "alice" || row.ReviewCount != 2 || row.AvgOverall != 7 {
		t.Errorf("row = %+v, want alice averaged over 2 reviews", row)
	}
}

func TestDeveloperEvaluationReportEmptyAndInvalid(t *testing.T) {
	srv, _, _ := newTestServer()
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodGet, "/admin/reports/developer-evaluation", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var report developerReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Results == nil || len(report.Results) != 0 {
		t.Errorf("results = %#v, want empty list", report.Results)
	}

	for _, query := range []string{"days=0", "days=366", "days=soon", "installation_id=abc"} {
		req := httptest.NewRequest(http.MethodGet, "/admin/reports/developer-evaluation?"+query, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", query, rr.Code, http.StatusBadRequest)
		}
	}
}
