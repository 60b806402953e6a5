package httpapi

import (
	"errors"
	"net/http"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/orchestrator"
)

type errorBody struct {
	Error string `json:"error"`
}

// conflictBody echoes the contested triple so the caller can see exactly
// which lock it lost.
type conflictBody struct {
	Status    string `json:"status"`
	MeetingID string `json:"meeting_id"`
}

// writeError maps an error to its HTTP shape. The mapping follows the
// sentinel chain, so wrapped errors land on the right status.
func writeError(w http.ResponseWriter, err error) {
	var conflict *orchestrator.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, conflictBody{
			Status:    "conflict",
			MeetingID: conflict.Triple.String(),
		})
		return
	}
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrMissingCredential):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrInvalidCredential):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		// Launch failures and anything unclassified are internal.
		return http.StatusInternalServerError
	}
}
