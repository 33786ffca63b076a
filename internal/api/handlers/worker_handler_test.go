package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"brokerage/internal/worker"
)

// ============ WorkerHandler Tests ============

func TestWorkerHandler_RunWorker(t *testing.T) {
	t.Run("successfully runs a pass and returns summary", func(t *testing.T) {
		trigger := NewMockPassTrigger()
		broadcaster := NewMockBroadcaster()
		handler := NewWorkerHandler(trigger, broadcaster, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/run", nil)
		w := httptest.NewRecorder()

		handler.RunWorker(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		if trigger.calls != 1 {
			t.Errorf("expected 1 trigger call, got %d", trigger.calls)
		}

		var result worker.PassResult
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if result.Scanned != 3 || result.Updated != 2 || result.Skipped != 1 {
			t.Errorf("unexpected pass summary: %+v", result)
		}
	})

	t.Run("broadcasts heartbeat to dashboard stream", func(t *testing.T) {
		trigger := NewMockPassTrigger()
		broadcaster := NewMockBroadcaster()
		handler := NewWorkerHandler(trigger, broadcaster, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/run", nil)
		w := httptest.NewRecorder()

		handler.RunWorker(w, req)

		if len(broadcaster.heartbeats) != 1 {
			t.Fatalf("expected 1 broadcast heartbeat, got %d", len(broadcaster.heartbeats))
		}

		hb := broadcaster.heartbeats[0]
		if hb.Scanned != 3 || hb.Updated != 2 || hb.Skipped != 1 {
			t.Errorf("unexpected heartbeat: %+v", hb)
		}
	})

	t.Run("works without broadcaster", func(t *testing.T) {
		trigger := NewMockPassTrigger()
		handler := NewWorkerHandler(trigger, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/run", nil)
		w := httptest.NewRecorder()

		handler.RunWorker(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})

	t.Run("passes limit and max_age_ms overrides to the worker", func(t *testing.T) {
		trigger := NewMockPassTrigger()
		handler := NewWorkerHandler(trigger, nil, nil)

		body := strings.NewReader(`{"limit": 25, "max_age_ms": 0}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/run", body)
		w := httptest.NewRecorder()

		handler.RunWorker(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if trigger.lastOpts.Limit == nil || *trigger.lastOpts.Limit != 25 {
			t.Errorf("limit override not passed: %+v", trigger.lastOpts)
		}
		if trigger.lastOpts.MinOrderAge == nil || *trigger.lastOpts.MinOrderAge != 0 {
			t.Errorf("max_age_ms override not passed: %+v", trigger.lastOpts)
		}
	})

	t.Run("empty body uses worker defaults", func(t *testing.T) {
		trigger := NewMockPassTrigger()
		handler := NewWorkerHandler(trigger, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/run", nil)
		w := httptest.NewRecorder()

		handler.RunWorker(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if trigger.lastOpts.Limit != nil || trigger.lastOpts.MinOrderAge != nil {
			t.Errorf("empty body must not override defaults: %+v", trigger.lastOpts)
		}
	})

	t.Run("rejects invalid overrides", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{name: "non-positive limit", body: `{"limit": 0}`},
			{name: "negative max_age_ms", body: `{"max_age_ms": -5}`},
			{name: "malformed json", body: `{"limit": `},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				trigger := NewMockPassTrigger()
				handler := NewWorkerHandler(trigger, nil, nil)

				req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/run", strings.NewReader(tt.body))
				w := httptest.NewRecorder()

				handler.RunWorker(w, req)

				if w.Code != http.StatusBadRequest {
					t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
				}
				if trigger.calls != 0 {
					t.Errorf("invalid body must not trigger a pass, got %d calls", trigger.calls)
				}
			})
		}
	})

	t.Run("returns 409 when a pass is already running", func(t *testing.T) {
		trigger := NewMockPassTrigger()
		trigger.err = worker.ErrPassInProgress
		handler := NewWorkerHandler(trigger, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/run", nil)
		w := httptest.NewRecorder()

		handler.RunWorker(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
		}

		var response ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response.Code != CodePassInProgress {
			t.Errorf("expected code %q, got %q", CodePassInProgress, response.Code)
		}
	})

	t.Run("returns 500 on pass failure", func(t *testing.T) {
		trigger := NewMockPassTrigger()
		trigger.err = ErrMockDatabase
		broadcaster := NewMockBroadcaster()
		handler := NewWorkerHandler(trigger, broadcaster, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/run", nil)
		w := httptest.NewRecorder()

		handler.RunWorker(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		// При ошибке прохода heartbeat не рассылается
		if len(broadcaster.heartbeats) != 0 {
			t.Errorf("expected no broadcast heartbeats, got %d", len(broadcaster.heartbeats))
		}
	})
}
