package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"recruiting-ai-queue/internal/apperr"
)

type errorResponse struct {
	Success bool     `json:"success"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// writeError renders err as the JSON error envelope. Internal causes are logged, never returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := errorResponse{
		Success: false,
		Code:    apperr.Code(err),
		Message: apperr.PublicMessage(err),
	}
	if appErr, ok := apperr.As(err); ok {
		body.Fields = appErr.Fields
	}

	event := s.log.Debug()
	if status >= http.StatusInternalServerError {
		event = s.log.Error()
	}
	event.Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("code", body.Code).
		Int("status", status).
		Msg("request failed")

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
