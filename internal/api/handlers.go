package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-sec/aegis/internal/audit"
	"github.com/aegis-sec/aegis/internal/auth"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/reports"
	"github.com/aegis-sec/aegis/internal/scan"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "Username and password are required")
		return
	}

	token, err := s.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
		return
	}

	respondJSON(w, http.StatusOK, token)
}

type scanRequest struct {
	Artifact struct {
		// Content is base64; raw text is accepted when it does not decode.
		Content  string       `json:"content"`
		Name     string       `json:"name"`
		Metadata models.JSONB `json:"metadata"`
	} `json:"artifact"`
	Mode        string  `json:"mode"`
	RequesterID *string `json:"requester_id"`
}

// submitScan runs the full pipeline synchronously. A completed scan is a 200
// whatever the threat level; only input validation is a 400, and only a
// failed audit write is a 5xx, returned alongside the computed result with
// persisted=false so the caller can decide whether to retry.
func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Artifact.Content)
	if err != nil {
		content = []byte(req.Artifact.Content)
	}

	requesterID := req.RequesterID
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		requesterID = &claims.UserID
	}

	artifact := models.Artifact{
		Content:  content,
		Name:     req.Artifact.Name,
		Metadata: req.Artifact.Metadata,
	}

	result, err := s.scanner.Scan(r.Context(), artifact, models.ScanMode(req.Mode), requesterID)
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrEmptyArtifact):
			respondError(w, http.StatusBadRequest, "empty_artifact", "Artifact content is empty")
		case errors.Is(err, scan.ErrArtifactTooLarge):
			respondError(w, http.StatusBadRequest, "artifact_too_large",
				fmt.Sprintf("Artifact exceeds maximum size of %d bytes", s.cfg.Scanner.MaxArtifactSize))
		case errors.Is(err, scan.ErrInvalidMode):
			respondError(w, http.StatusBadRequest, "invalid_mode", "Mode must be quick or comprehensive")
		default:
			var perr *audit.PersistenceError
			if errors.As(err, &perr) {
				respondErrorWithData(w, http.StatusInternalServerError, "persistence_failed",
					"Scan completed but the result could not be persisted", result)
				return
			}
			s.logger.Error("scan failed", "error", err)
			respondError(w, http.StatusInternalServerError, "scan_failed", "Scan failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

var statsPeriods = map[string]int{
	"7_days":  7,
	"30_days": 30,
	"90_days": 90,
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "7_days"
	}
	days, ok := statsPeriods[period]
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_period", "Period must be one of: 7_days, 30_days, 90_days")
		return
	}

	stats, err := s.store.Stats(r.Context(), days)
	if err != nil {
		s.logger.Error("failed to compute stats", "error", err)
		respondError(w, http.StatusInternalServerError, "stats_failed", "Failed to compute statistics")
		return
	}
	stats.Period = period

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "Limit must be between 1 and 500")
			return
		}
		limit = n
	}

	scans, err := s.store.ListRecentScans(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list scans", "error", err)
		respondError(w, http.StatusInternalServerError, "history_failed", "Failed to list scan history")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, scans, &apiMeta{Total: len(scans), Limit: limit})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	result, err := s.store.GetScanResult(r.Context(), scanID)
	if err != nil {
		s.logger.Error("failed to get scan", "scan_id", scanID, "error", err)
		respondError(w, http.StatusInternalServerError, "lookup_failed", "Failed to look up scan")
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "not_found", "Scan not found")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) listSignatures(w http.ResponseWriter, r *http.Request) {
	sigs, err := s.sigEngine.ListSignatures(r.Context())
	if err != nil {
		s.logger.Error("failed to list signatures", "error", err)
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to list signatures")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, sigs, &apiMeta{Total: len(sigs)})
}

func (s *Server) getSignature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "signatureID")

	sig, err := s.sigEngine.GetSignature(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get signature", "signature_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "lookup_failed", "Failed to look up signature")
		return
	}
	if sig == nil {
		respondError(w, http.StatusNotFound, "not_found", "Signature not found")
		return
	}

	respondJSON(w, http.StatusOK, sig)
}

func (s *Server) createSignature(w http.ResponseWriter, r *http.Request) {
	var sig models.SignatureRecord
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := s.sigEngine.CreateSignature(r.Context(), &sig); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_signature", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, sig)
}

func (s *Server) updateSignature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "signatureID")

	var sig models.SignatureRecord
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	sig.ID = id

	existing, err := s.sigEngine.GetSignature(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get signature", "signature_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "lookup_failed", "Failed to look up signature")
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "not_found", "Signature not found")
		return
	}

	if err := s.sigEngine.UpdateSignature(r.Context(), &sig); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_signature", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, sig)
}

func (s *Server) deleteSignature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "signatureID")

	existing, err := s.sigEngine.GetSignature(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get signature", "signature_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "lookup_failed", "Failed to look up signature")
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "not_found", "Signature not found")
		return
	}

	if err := s.sigEngine.DeleteSignature(r.Context(), id); err != nil {
		s.logger.Error("failed to delete signature", "signature_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete signature")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) listResponses(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "Limit must be between 1 and 500")
			return
		}
		limit = n
	}

	responses, err := s.store.ListEmergencyResponses(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list responses", "error", err)
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to list emergency responses")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, responses, &apiMeta{Total: len(responses), Limit: limit})
}

func (s *Server) getResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "responseID")

	resp, err := s.store.GetEmergencyResponse(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get response", "response_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "lookup_failed", "Failed to look up emergency response")
		return
	}
	if resp == nil {
		respondError(w, http.StatusNotFound, "not_found", "Emergency response not found")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) getResponseReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "responseID")

	resp, err := s.store.GetEmergencyResponse(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get response", "response_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "lookup_failed", "Failed to look up emergency response")
		return
	}
	if resp == nil {
		respondError(w, http.StatusNotFound, "not_found", "Emergency response not found")
		return
	}

	// The scan record enriches the report but its absence does not block it.
	scanResult, err := s.store.GetScanResult(r.Context(), resp.ScanID)
	if err != nil {
		s.logger.Warn("scan record unavailable for report", "scan_id", resp.ScanID, "error", err)
	}

	pdf, err := reports.IncidentReportPDF(scanResult, resp)
	if err != nil {
		s.logger.Error("failed to render incident report", "response_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "report_failed", "Failed to generate incident report")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=incident_%s.pdf", resp.ResponseID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
