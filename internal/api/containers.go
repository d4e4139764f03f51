package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/ledger"
	"github.com/erazemk/nxledger/internal/model"
	"github.com/erazemk/nxledger/internal/store"
)

// ContainersHandler handles assets, pallets and boxes.
type ContainersHandler struct {
	DB            *db.DB
	Service       *ledger.Service
	Reconstructor *ledger.Reconstructor
}

// kindHandler serves the endpoints of one container kind.
type kindHandler struct {
	*ContainersHandler
	kind model.ContainerKind
}

func (h *ContainersHandler) forKind(kind model.ContainerKind) *kindHandler {
	return &kindHandler{ContainersHandler: h, kind: kind}
}

type containerRequest struct {
	Tag         string            `json:"tag"`
	Building    int               `json:"building"`
	Location    string            `json:"location"`
	PalletTag   string            `json:"pallet_tag"`
	Notes       string            `json:"notes"`
	Attributes  map[string]string `json:"attributes"`
	Parts       []model.CartItem  `json:"parts"`
	Counterpart *locationRequest  `json:"counterpart"`
	Migrated    bool              `json:"migrated"`
}

type containerResponse struct {
	Container *model.Container     `json:"container"`
	Parts     []model.PartGroup    `json:"parts"`
	Assets    []model.ContainerRef `json:"assets,omitempty"`
	Boxes     []model.ContainerRef `json:"boxes,omitempty"`
}

// List handles GET /api/{kind}s, optionally filtered by ?building=.
func (h *kindHandler) List(w http.ResponseWriter, r *http.Request) {
	f := model.ContainerFilter{Kind: h.kind, OpenOnly: true, Building: intQuery(r, "building", 0)}
	cs, err := store.FindContainers(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to list containers", "kind", h.kind, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list "+collection(h.kind))
		return
	}
	if cs == nil {
		cs = []model.Container{}
	}
	jsonResponse(w, http.StatusOK, cs)
}

// Get handles GET /api/{kind}s/{tag}: the head version and what it holds.
func (h *kindHandler) Get(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	head, err := store.ContainerHead(r.Context(), h.DB, h.kind, tag)
	if err != nil {
		slog.Error("failed to get container", "kind", h.kind, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get "+string(h.kind))
		return
	}
	if head == nil {
		jsonError(w, http.StatusNotFound, string(h.kind)+" not found")
		return
	}

	groups, err := store.GroupRecords(r.Context(), h.DB, head.Ref().Filter(), false)
	if err != nil {
		slog.Error("failed to group parts", "kind", h.kind, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get "+string(h.kind))
		return
	}
	resp := containerResponse{Container: head, Parts: nonNilGroups(groups)}

	if h.kind == model.KindPallet {
		if resp.Assets, err = h.children(r, model.KindAsset, tag); err == nil {
			resp.Boxes, err = h.children(r, model.KindBox, tag)
		}
		if err != nil {
			slog.Error("failed to list pallet contents", "pallet", tag, "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to get pallet")
			return
		}
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (h *kindHandler) children(r *http.Request, kind model.ContainerKind, pallet string) ([]model.ContainerRef, error) {
	cs, err := store.FindContainers(r.Context(), h.DB, model.ContainerFilter{Kind: kind, PalletTag: pallet, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	refs := []model.ContainerRef{}
	for _, c := range cs {
		if c.PalletTag == pallet {
			refs = append(refs, model.ContainerRef{ID: c.ID, Tag: c.Tag})
		}
	}
	return refs, nil
}

// Create handles POST /api/{kind}s.
func (h *kindHandler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := h.decodeUpdate(w, r, "")
	if !ok {
		return
	}
	res, err := h.Service.CreateContainer(r.Context(), u)
	if err != nil {
		ledgerError(w, err, "failed to create "+string(h.kind))
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

// Update handles PUT /api/{kind}s/{tag}.
func (h *kindHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// DryRun handles POST /api/{kind}s/{tag}/dry-run: the result of an update
// without writing it.
func (h *kindHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *kindHandler) update(w http.ResponseWriter, r *http.Request, dryRun bool) {
	u, ok := h.decodeUpdate(w, r, r.PathValue("tag"))
	if !ok {
		return
	}
	u.DryRun = dryRun
	res, err := h.Service.UpdateContainer(r.Context(), u)
	if err != nil {
		ledgerError(w, err, "failed to update "+string(h.kind))
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

func (h *kindHandler) decodeUpdate(w http.ResponseWriter, r *http.Request, tag string) (ledger.ContainerUpdate, bool) {
	claims := GetClaims(r.Context())

	var req containerRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return ledger.ContainerUpdate{}, false
	}
	if tag == "" {
		tag = req.Tag
	}
	if req.Migrated && !model.RoleAtLeast(claims.Role, model.RoleManager) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return ledger.ContainerUpdate{}, false
	}

	counterpart, err := locationOr(req.Counterpart, inventoryOf(claims))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid counterpart: "+err.Error())
		return ledger.ContainerUpdate{}, false
	}

	return ledger.ContainerUpdate{
		Container: model.Container{
			Kind:       h.kind,
			Tag:        tag,
			Building:   req.Building,
			Location:   req.Location,
			PalletTag:  req.PalletTag,
			Notes:      req.Notes,
			Attributes: req.Attributes,
		},
		Parts:       req.Parts,
		Counterpart: counterpart,
		By:          claims.UserID,
		Migrated:    req.Migrated,
	}, true
}

// Delete handles DELETE /api/{kind}s/{tag}.
func (h *kindHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if err := h.Service.DeleteContainer(r.Context(), h.kind, r.PathValue("tag"), claims.UserID); err != nil {
		ledgerError(w, err, "failed to delete "+string(h.kind))
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": string(h.kind) + " deleted"})
}

// History handles GET /api/{kind}s/{tag}/history?page=&size=.
func (h *kindHandler) History(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	versions, err := store.FindContainers(r.Context(), h.DB, model.ContainerFilter{Kind: h.kind, Tag: tag, Limit: 1})
	if err != nil {
		slog.Error("failed to find container", "kind", h.kind, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get history")
		return
	}
	if len(versions) == 0 {
		jsonError(w, http.StatusNotFound, string(h.kind)+" not found")
		return
	}

	page, err := h.Reconstructor.HistoryPage(r.Context(), model.InContainer(h.kind, tag), intQuery(r, "page", 1), intQuery(r, "size", 0))
	if err != nil {
		ledgerError(w, err, "failed to get history")
		return
	}
	jsonResponse(w, http.StatusOK, page)
}

// Events handles GET /api/{kind}s/{tag}/events?date=&nxid=.
// date is RFC 3339 or unix milliseconds.
func (h *kindHandler) Events(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid date")
		return
	}

	var nxids []string
	for _, id := range r.URL.Query()["nxid"] {
		nxids = append(nxids, ledger.CanonicalNXID(id))
	}

	ev, err := h.Reconstructor.EventsAt(r.Context(), model.InContainer(h.kind, r.PathValue("tag")), date, nxids...)
	if err != nil {
		ledgerError(w, err, "failed to get events")
		return
	}
	jsonResponse(w, http.StatusOK, ev)
}

func parseDate(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
