package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"kudos/pkg/domain"
)

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// feedbacksHandler runs the pipeline and returns the open feedback set
// grouped by account
func (s *Server) feedbacksHandler(w http.ResponseWriter, r *http.Request) {
	open, err := s.pipeline.Run(r.Context())
	if err != nil {
		log.Printf("[ERROR] pipeline run failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	total := 0
	for _, records := range open {
		total += len(records)
	}
	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"accounts": open,
		"total":    total,
	})
}

// decisionRequest is the payload for logging a decision batch
type decisionRequest struct {
	Status    domain.Status           `json:"status"`
	Feedbacks []domain.FeedbackRecord `json:"feedbacks"`
}

// decisionsHandler logs a terminal decision for a batch of records
func (s *Server) decisionsHandler(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	if !req.Status.Valid() {
		renderError(w, r, fmt.Errorf("status must be %q or %q", domain.StatusApproved, domain.StatusRejected), http.StatusBadRequest)
		return
	}
	if len(req.Feedbacks) == 0 {
		renderError(w, r, fmt.Errorf("feedbacks list is empty"), http.StatusBadRequest)
		return
	}

	if err := s.pipeline.Decide(r.Context(), req.Feedbacks, req.Status); err != nil {
		log.Printf("[ERROR] failed to log decisions: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"logged": len(req.Feedbacks),
		"status": req.Status,
	})
}

// draftsRequest is the payload for draft generation
type draftsRequest struct {
	Feedbacks []domain.FeedbackRecord `json:"feedbacks"`
}

// draftsHandler generates recognition drafts for already-approved records
func (s *Server) draftsHandler(w http.ResponseWriter, r *http.Request) {
	var req draftsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	if len(req.Feedbacks) == 0 {
		renderError(w, r, fmt.Errorf("feedbacks list is empty"), http.StatusBadRequest)
		return
	}

	if err := s.pipeline.DraftApproved(r.Context(), req.Feedbacks); err != nil {
		log.Printf("[ERROR] draft generation failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"drafted": len(req.Feedbacks),
	})
}

// renderJSON sends data as JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
