package api

import (
	"net/http"

	"github.com/erazemk/nxledger/internal/ledger"
)

// RecordsHandler exposes version chains.
type RecordsHandler struct {
	Auditor *ledger.Auditor
}

// Chain handles GET /api/records/{id}/chain.
func (h *RecordsHandler) Chain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.Auditor.ChainOf(r.Context(), r.PathValue("id"))
	if err != nil {
		ledgerError(w, err, "failed to get chain")
		return
	}
	jsonResponse(w, http.StatusOK, chain)
}

// Serial handles GET /api/serials/{serial}.
func (h *RecordsHandler) Serial(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Auditor.SerialHistory(r.Context(), r.PathValue("serial"))
	if err != nil {
		ledgerError(w, err, "failed to get serial history")
		return
	}
	if len(recs) == 0 {
		jsonError(w, http.StatusNotFound, "serial not found")
		return
	}
	jsonResponse(w, http.StatusOK, recs)
}

// Verify handles GET /api/audit. It reports chain inconsistencies without repairing them.
func (h *RecordsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.Auditor.Verify(r.Context())
	if err != nil {
		ledgerError(w, err, "failed to verify chains")
		return
	}
	jsonResponse(w, http.StatusOK, report)
}
