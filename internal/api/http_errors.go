package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

// respondDomainError maps a domain error category onto an HTTP status.
func respondDomainError(w http.ResponseWriter, err error) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch domErr.Category {
	case core.ErrCatValidation:
		status = http.StatusUnprocessableEntity
	case core.ErrCatNotFound:
		status = http.StatusNotFound
	case core.ErrCatState:
		status = http.StatusConflict
	case core.ErrCatCapacity:
		status = http.StatusTooManyRequests
	case core.ErrCatPersistence:
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, domErr.Message)
}
