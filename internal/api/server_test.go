package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	return resp
}

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	respondJSON(rec, http.StatusOK, map[string]string{"status": "healthy"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	resp := decodeEnvelope(t, rec)
	if !resp.Success || resp.Error != nil {
		t.Errorf("expected success envelope, got %+v", resp)
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, http.StatusBadRequest, "invalid_mode", "Mode must be quick or comprehensive")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	resp := decodeEnvelope(t, rec)
	if resp.Success {
		t.Error("error responses must not be marked success")
	}
	if resp.Error == nil || resp.Error.Code != "invalid_mode" {
		t.Errorf("expected invalid_mode error, got %+v", resp.Error)
	}
}

func TestRespondErrorWithData(t *testing.T) {
	rec := httptest.NewRecorder()
	respondErrorWithData(rec, http.StatusInternalServerError, "persistence_failed",
		"Scan completed but the result could not be persisted",
		map[string]interface{}{"scan_id": "scan_x", "persisted": false})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}

	resp := decodeEnvelope(t, rec)
	if resp.Success {
		t.Error("a persistence failure is not a success")
	}
	if resp.Error == nil || resp.Error.Code != "persistence_failed" {
		t.Errorf("expected persistence_failed, got %+v", resp.Error)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok || data["scan_id"] != "scan_x" {
		t.Errorf("the computed result must ride along with the error, got %+v", resp.Data)
	}
}

func TestRespondJSONWithMeta(t *testing.T) {
	rec := httptest.NewRecorder()
	respondJSONWithMeta(rec, http.StatusOK, []string{"a", "b"}, &apiMeta{Total: 2, Limit: 50})

	resp := decodeEnvelope(t, rec)
	if resp.Meta == nil || resp.Meta.Total != 2 || resp.Meta.Limit != 50 {
		t.Errorf("expected meta totals, got %+v", resp.Meta)
	}
}

func TestStatsPeriods(t *testing.T) {
	tests := []struct {
		period string
		days   int
		ok     bool
	}{
		{"7_days", 7, true},
		{"30_days", 30, true},
		{"90_days", 90, true},
		{"1_year", 0, false},
	}
	for _, tt := range tests {
		days, ok := statsPeriods[tt.period]
		if ok != tt.ok || days != tt.days {
			t.Errorf("statsPeriods[%q] = (%d, %v), want (%d, %v)", tt.period, days, ok, tt.days, tt.ok)
		}
	}
}
