package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/metering"
	"github.com/pario-ai/tollgate/pkg/models"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth.Actor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.svc.Models(r.Context(), actor, r.URL.Query().Get("org_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth.Actor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	rep, err := s.svc.Report(r.Context(), actor, q.Get("org_id"), q.Get("period"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAdminUsage(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth.Actor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sum, err := s.svc.PlatformSummary(r.Context(), actor, r.URL.Query().Get("period"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// budgetRequest is a budget patch with an optional target organization.
type budgetRequest struct {
	OrganizationID string `json:"org_id"`
	models.BudgetPatch
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth.Actor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req budgetRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		orgID = req.OrganizationID
	}
	ifVersion, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.svc.UpdateBudget(r.Context(), actor, orgID, req.BudgetPatch, ifVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(res.Version, 10)))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatEvent(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth.Actor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req metering.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.ActorID = actor

	receipt, err := s.svc.RecordChat(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail writes err as a JSON error. Internal details are logged, not returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, public := statusFor(err)
	msg := err.Error()
	switch {
	case code == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
		msg = "usage data is not yet knowable; retry shortly"
	case !public:
		msg = "internal error"
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", w.Header().Get("X-Request-ID")),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSONError(w, code, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &requestError{msg: "request body is empty"}
		}
		return &requestError{msg: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

// parseIfMatch reads a settings version from an If-Match header such as "7" or W/"7".
func parseIfMatch(h string) (*int64, error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return nil, nil
	}
	h = strings.TrimPrefix(h, "W/")
	h = strings.Trim(h, `"`)
	v, err := strconv.ParseInt(h, 10, 64)
	if err != nil || v < 0 {
		return nil, &requestError{msg: fmt.Sprintf("invalid If-Match version %q", h)}
	}
	return &v, nil
}
