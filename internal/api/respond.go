package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"voltledger/internal/apperr"
	"voltledger/internal/middleware"
	"voltledger/internal/models"
)

type errorResponse struct {
	Status  string      `json:"status"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, apperr.HTTPStatus(kind), errorResponse{
		Status:  "error",
		Kind:    kind,
		Message: apperr.Message(err),
	})
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Wrap(apperr.KindValidation, "invalid request body", err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for bodies that may be left empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.KindValidation, "invalid request body", err)
	}
	return nil
}

// claims returns the authenticated caller; routes using it are mounted
// behind the auth middleware.
func claims(r *http.Request) *models.Claims {
	c, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		return &models.Claims{}
	}
	return c
}
