/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ingress terminates webhook deliveries and the operator admin
// surface. Admission is the only writer of new ledger records: a delivery
// is verified, normalized, admitted exactly once, and enqueued.
package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"

	"chainguard.dev/fossmate/events"
	"chainguard.dev/fossmate/ledger"
	"chainguard.dev/fossmate/workqueue"
)

// maxPayload bounds webhook bodies. GitHub caps payloads at 25 MB.
const maxPayload = 25 << 20

// Server is the ingress HTTP surface.
type Server struct {
	store  ledger.Store
	queue  *workqueue.Queue
	secret []byte
}

// NewServer wires admission against the ledger and queue.
func NewServer(store ledger.Store, queue *workqueue.Queue, webhookSecret string) *Server {
	return &Server{store: store, queue: queue, secret: []byte(webhookSecret)}
}

// Mux returns the ingress routes.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/github", s.handleWebhook)
	mux.HandleFunc("GET /admin/deliveries/{id}", s.handleDeliveryStatus)
	mux.HandleFunc("POST /admin/deliveries/{id}/replay", s.handleReplay)
	mux.HandleFunc("GET /admin/reports/developer-evaluation", s.handleDeveloperReport)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	})
	return mux
}

type webhookResponse struct {
	Status   string `json:"status"`
	RecordID string `json:"record_id,omitempty"`
	State    string `json:"state,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	deliveryID := r.Header.Get(github.DeliveryIDHeader)
	eventType := r.Header.Get(github.EventTypeHeader)
	signature := r.Header.Get(github.SHA256SignatureHeader)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	if len(payload) == 0 || deliveryID == "" || eventType == "" {
		http.Error(w, "missing delivery headers or payload", http.StatusBadRequest)
		return
	}

	// Signature failures never reach admission.
	if err := github.ValidateSignature(signature, payload, s.secret); err != nil {
		log.With("delivery", deliveryID).Warn("Rejecting webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	ev, err := events.NormalizeGitHub(eventType, deliveryID, payload)
	if err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	key := ledger.IdempotencyKey(ev.DeliveryID, ev.EventType, ev.Action)
	rec, created, err := s.store.Admit(ctx, ev, key)
	if err != nil {
		log.With("error", err.Error()).Error("Admission failed")
		http.Error(w, "admission failed", http.StatusInternalServerError)
		return
	}

	log = log.With("delivery", deliveryID).With("event", eventType).With("record", rec.ID)
	if !created {
		// Redelivery of a known delivery acknowledges without enqueueing;
		// the existing record already owns the work.
		log.Info("Duplicate delivery acknowledged")
		writeJSON(w, http.StatusAccepted, webhookResponse{Status: "duplicate", RecordID: rec.ID})
		return
	}

	if _, err := s.queue.Enqueue(rec.ID, rec.Key); err != nil {
		// The record stays queued in the ledger; replay can pick it up
		// once there is capacity.
		log.With("error", err.Error()).Warn("Enqueue failed, record remains queued for replay")
	}
	log.Info("Delivery admitted")
	writeJSON(w, http.StatusAccepted, webhookResponse{Status: "accepted", RecordID: rec.ID})
}

type deliveryStatus struct {
	Record *ledger.Record `json:"record"`
	Run    *ledger.Run    `json:"run,omitempty"`
}

func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, "unknown delivery", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	status := deliveryStatus{Record: rec}
	if run, err := s.store.LatestRun(r.Context(), rec.ID); err == nil {
		status.Run = run
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	force := r.URL.Query().Get("force") == "true"

	id := r.PathValue("id")
	rec, err := s.store.Requeue(ctx, id, force)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			http.Error(w, "unknown delivery", http.StatusNotFound)
		case errors.Is(err, ledger.ErrNotReplayable):
			// Non-forced replay of a non-failed record reports the current
			// state rather than changing anything.
			resp := webhookResponse{Status: "not-replayable", RecordID: id}
			if cur, err := s.store.Get(ctx, id); err == nil {
				resp.State = string(cur.State)
			}
			writeJSON(w, http.StatusConflict, resp)
		default:
			http.Error(w, "replay failed", http.StatusInternalServerError)
		}
		return
	}

	if _, err := s.queue.Enqueue(rec.ID, rec.Key); err != nil {
		clog.FromContext(ctx).With("record", rec.ID).With("error", err.Error()).
			Warn("Replay enqueue failed, record remains queued")
	}
	clog.FromContext(ctx).With("record", rec.ID).With("force", force).Info("Delivery replayed")
	writeJSON(w, http.StatusAccepted, webhookResponse{Status: "replaying", RecordID: rec.ID})
}

type developerReport struct {
	Days           int                          `json:"days"`
	InstallationID int64                        `json:"installation_id,omitempty"`
	DeveloperLogin string                       `json:"developer_login,omitempty"`
	Results        []ledger.DeveloperEvaluation `json:"results"`
}

// handleDeveloperReport aggregates per-developer quality metrics over a
// trailing window (default 30 days, capped at 365).
func (s *Server) handleDeveloperReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days := 30
	if raw := q.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			http.Error(w, "days must be between 1 and 365", http.StatusBadRequest)
			return
		}
		days = n
	}

	var installationID int64
	if raw := q.Get("installation_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid installation_id", http.StatusBadRequest)
			return
		}
		installationID = n
	}
	login := q.Get("developer_login")

	since := time.Now().UTC().AddDate(0, 0, -days)
	results, err := s.store.DeveloperEvaluation(r.Context(), installationID, login, since)
	if err != nil {
		http.Error(w, "report failed", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []ledger.DeveloperEvaluation{}
	}
	writeJSON(w, http.StatusOK, developerReport{
		Days:           days,
		InstallationID: installationID,
		DeveloperLogin: login,
		Results:        results,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
