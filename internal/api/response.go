package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/nxledger/internal/ledger"
	"github.com/erazemk/nxledger/internal/lock"
	"github.com/erazemk/nxledger/internal/model"
	"github.com/erazemk/nxledger/internal/store"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// ledgerError maps a ledger or storage error to a status code. Unexpected
// errors are logged and hidden behind msg.
func ledgerError(w http.ResponseWriter, err error, msg string) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, ledger.ErrInvalidCart),
		errors.Is(err, ledger.ErrMalformedCart),
		errors.Is(err, ledger.ErrInvalid):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrNotEmpty),
		errors.Is(err, model.ErrChainConflict),
		errors.Is(err, model.ErrExists),
		errors.Is(err, store.ErrHoldsParts),
		errors.Is(err, lock.ErrNotAcquired):
		jsonError(w, http.StatusConflict, err.Error())
	default:
		slog.Error(msg, "error", err)
		jsonError(w, http.StatusInternalServerError, msg)
	}
}

// intQuery reads a positive integer query parameter, or def when absent or invalid.
func intQuery(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func nonNilGroups(groups []model.PartGroup) []model.PartGroup {
	if groups == nil {
		return []model.PartGroup{}
	}
	return groups
}
