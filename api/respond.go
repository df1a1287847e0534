package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/creditline"
)

// envelope is every response body: a success flag plus named payloads.
type envelope map[string]any

func (s *Server) json(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, status int, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	s.json(w, status, body)
}

// error writes err with the status errorStatus assigns. Server faults are
// logged and their details withheld from the client.
func (s *Server) error(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		if status == http.StatusInternalServerError {
			message = "internal server error"
		}
	}
	s.json(w, status, envelope{"success": false, "message": message})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, creditline.ErrInvalidInput),
		errors.Is(err, creditline.ErrTransactionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, creditline.ErrUnauthorized),
		errors.Is(err, creditline.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, creditline.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case creditline.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, creditline.ErrGatewayFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return creditline.ValidationError{Field: "body", Message: "invalid JSON"}
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", creditline.ErrInvalidInput, err)
	}
	return nil
}
