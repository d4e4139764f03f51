package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/ledger"
	"github.com/erazemk/nxledger/internal/model"
	"github.com/erazemk/nxledger/internal/store"
)

// InventoryHandler handles user inventories, receiving, transfers and rooms.
type InventoryHandler struct {
	DB            *db.DB
	Service       *ledger.Service
	Reconstructor *ledger.Reconstructor
}

type receiveRequest struct {
	Parts []model.CartItem `json:"parts"`
	To    *locationRequest `json:"to"`
}

type transferRequest struct {
	Parts  []model.CartItem `json:"parts"`
	From   *locationRequest `json:"from"`
	To     *locationRequest `json:"to"`
	DryRun bool             `json:"dry_run"`
}

// target resolves ?user=, which only managers may point at someone else.
func (h *InventoryHandler) target(w http.ResponseWriter, r *http.Request) (model.Location, bool) {
	claims := GetClaims(r.Context())
	id := r.URL.Query().Get("user")
	if id == "" || id == claims.UserID {
		return inventoryOf(claims), true
	}
	if !model.RoleAtLeast(claims.Role, model.RoleManager) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return model.Location{}, false
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return model.Location{}, false
	}
	if user == nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return model.Location{}, false
	}
	return user.Inventory(), true
}

// List handles GET /api/inventory.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.target(w, r)
	if !ok {
		return
	}
	h.contents(w, r, loc)
}

// History handles GET /api/inventory/history.
func (h *InventoryHandler) History(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.target(w, r)
	if !ok {
		return
	}
	h.history(w, r, loc)
}

// Room handles GET /api/rooms/{building}/{name}.
func (h *InventoryHandler) Room(w http.ResponseWriter, r *http.Request) {
	loc, ok := roomLocation(w, r)
	if !ok {
		return
	}
	h.contents(w, r, loc)
}

// RoomHistory handles GET /api/rooms/{building}/{name}/history.
func (h *InventoryHandler) RoomHistory(w http.ResponseWriter, r *http.Request) {
	loc, ok := roomLocation(w, r)
	if !ok {
		return
	}
	h.history(w, r, loc)
}

func roomLocation(w http.ResponseWriter, r *http.Request) (model.Location, bool) {
	building, err := strconv.Atoi(r.PathValue("building"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid building")
		return model.Location{}, false
	}
	loc := model.Room(building, r.PathValue("name"))
	if err := loc.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return model.Location{}, false
	}
	return loc, true
}

func (h *InventoryHandler) contents(w http.ResponseWriter, r *http.Request, loc model.Location) {
	groups, err := store.GroupRecords(r.Context(), h.DB, loc.Filter(), false)
	if err != nil {
		slog.Error("failed to group parts", "location", loc.Key(), "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get inventory")
		return
	}
	jsonResponse(w, http.StatusOK, nonNilGroups(groups))
}

func (h *InventoryHandler) history(w http.ResponseWriter, r *http.Request, loc model.Location) {
	page, err := h.Reconstructor.HistoryPage(r.Context(), loc, intQuery(r, "page", 1), intQuery(r, "size", 0))
	if err != nil {
		ledgerError(w, err, "failed to get history")
		return
	}
	jsonResponse(w, http.StatusOK, page)
}

// Receive handles POST /api/inventory/receive. Parts go to the caller's
// inventory unless "to" names another location.
func (h *InventoryHandler) Receive(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req receiveRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	to, err := locationOr(req.To, inventoryOf(claims))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid destination: "+err.Error())
		return
	}

	res, err := h.Service.Receive(r.Context(), ledger.ReceiveRequest{Parts: req.Parts, To: to, By: claims.UserID})
	if err != nil {
		ledgerError(w, err, "failed to receive parts")
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Transfer handles POST /api/inventory/transfer. Without "from" the parts
// leave the caller's inventory; any other source requires a manager.
func (h *InventoryHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == nil {
		jsonError(w, http.StatusBadRequest, "destination required")
		return
	}

	own := inventoryOf(claims)
	from, err := locationOr(req.From, own)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid source: "+err.Error())
		return
	}
	if from.Key() != own.Key() && !model.RoleAtLeast(claims.Role, model.RoleManager) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return
	}
	to, err := req.To.location()
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid destination: "+err.Error())
		return
	}

	res, err := h.Service.Transfer(r.Context(), ledger.TransferRequest{
		Parts:  req.Parts,
		From:   from,
		To:     to,
		By:     claims.UserID,
		DryRun: req.DryRun,
	})
	if err != nil {
		ledgerError(w, err, "failed to transfer parts")
		return
	}
	jsonResponse(w, http.StatusOK, res)
}
