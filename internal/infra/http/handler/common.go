package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deplai/api/pkg/apierror"
	"github.com/deplai/api/pkg/domain/shared"
	"github.com/deplai/api/pkg/logger"
	"github.com/deplai/api/pkg/validator"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeValidationError writes validation failures as a 422 with field details.
func writeValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]apierror.ValidationError, len(validationErrors))
		for i, ve := range validationErrors {
			details[i] = apierror.ValidationError{
				Field:   ve.Field,
				Message: ve.Message,
			}
		}
		apierror.ValidationFailed("Validation failed", details).WriteJSON(w)
		return
	}
	apierror.BadRequest("Validation error").WriteJSON(w)
}

// writeDomainError maps a domain error to the HTTP error taxonomy. Anything
// unrecognized is logged and returned as an opaque 500.
func writeDomainError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case shared.IsNotFound(err):
		apierror.NotFound("").WriteJSON(w)
	case shared.IsUnauthorized(err):
		apierror.Unauthorized("").WriteJSON(w)
	case shared.IsForbidden(err):
		apierror.Forbidden("").WriteJSON(w)
	case shared.IsValidation(err):
		apierror.BadRequest(domainMessage(err)).WriteJSON(w)
	case errors.Is(err, shared.ErrAlreadyExists), errors.Is(err, shared.ErrConflict):
		apierror.Conflict(domainMessage(err)).WriteJSON(w)
	case shared.IsUpstream(err):
		apierror.UpstreamError("").WriteJSON(w)
	default:
		log.Error("service error", "error", err)
		apierror.InternalServerError("").WriteJSON(w)
	}
}

// domainMessage returns the domain error's message without its wrapped chain,
// so internals never leak into client responses.
func domainMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
