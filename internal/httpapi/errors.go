package httpapi

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/campusgate/server/internal/gate/service"
	"github.com/campusgate/server/internal/gate/types"
)

type errorResponse struct {
	Status        string `json:"status"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeServiceError maps domain errors to HTTP statuses. Anything it does
// not recognise is logged and reported as a 500 without details.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code, reason := classify(err)
	msg := err.Error()

	if status == http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"op":             op,
			"correlation_id": correlationID(r.Context()),
		}).WithError(err).Error("request failed")
		msg = "unexpected server error"
	}

	respond(w, r, status, errorResponse{
		Status:        types.StatusFailed,
		Code:          code,
		Message:       msg,
		Reason:        reason,
		CorrelationID: correlationID(r.Context()),
	})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, code, msg string) {
	respond(w, r, http.StatusBadRequest, errorResponse{
		Status:        types.StatusFailed,
		Code:          code,
		Message:       msg,
		CorrelationID: correlationID(r.Context()),
	})
}

func classify(err error) (status int, code, reason string) {
	var denied *service.DeniedError
	switch {
	case errors.As(err, &denied):
		return http.StatusForbidden, "access_denied", denied.Reason
	case errors.Is(err, service.ErrUnresolvable):
		return http.StatusUnprocessableEntity, "unresolvable", ""
	case errors.Is(err, service.ErrCredentialExpired):
		return http.StatusForbidden, "credential_expired", ""
	case errors.Is(err, service.ErrCredentialRevoked):
		return http.StatusForbidden, "credential_revoked", ""
	case errors.Is(err, service.ErrConcurrentConflict):
		return http.StatusConflict, "concurrent_conflict", ""
	case errors.Is(err, service.ErrIdentityNotFound):
		return http.StatusNotFound, "identity_not_found", ""
	case errors.Is(err, service.ErrCredentialNotFound):
		return http.StatusNotFound, "credential_not_found", ""
	case errors.Is(err, service.ErrInvalidIdentityID):
		return http.StatusBadRequest, "invalid_identity_id", ""
	case errors.Is(err, service.ErrInvalidDocument):
		return http.StatusBadRequest, "invalid_document_number", ""
	case errors.Is(err, service.ErrInvalidValidity):
		return http.StatusBadRequest, "invalid_validity", ""
	case errors.Is(err, service.ErrNotVisitor):
		return http.StatusBadRequest, "not_a_visitor", ""
	default:
		return http.StatusInternalServerError, "internal_error", ""
	}
}
