package api

import (
	"errors"
	"net/http"

	"matrixfund/domain/services"

	log "github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps a ledger error to its HTTP status and error kind
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrProposalNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrAlreadyRegistered):
		return http.StatusConflict, "validation"
	case services.IsValidationError(err):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "transfer"
	case errors.Is(err, services.ErrTransferFailed):
		return http.StatusBadGateway, "transfer"
	case errors.Is(err, services.ErrNothingToWithdraw),
		errors.Is(err, services.ErrNothingToReset):
		return http.StatusConflict, "state"
	case errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, services.ErrNotSigner),
		errors.Is(err, services.ErrNotProposer),
		errors.Is(err, services.ErrBlacklisted):
		return http.StatusForbidden, "governance"
	case services.IsGovernanceError(err):
		return http.StatusConflict, "governance"
	case errors.Is(err, services.ErrAutomationFailure):
		return http.StatusServiceUnavailable, "automation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	entry := log.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	message := err.Error()
	if status == http.StatusInternalServerError {
		entry.Error("Request failed")
		message = "internal error"
	} else {
		entry.Debug("Request rejected")
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, Kind: "validation"})
}
