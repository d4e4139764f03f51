package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/erazemk/nxledger/internal/blob"
	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/imaging"
	"github.com/erazemk/nxledger/internal/ledger"
	"github.com/erazemk/nxledger/internal/model"
	"github.com/erazemk/nxledger/internal/store"
)

// PartsHandler handles the part type catalog.
type PartsHandler struct {
	DB    *db.DB
	Blobs blob.Store
}

type partRequest struct {
	NXID         string `json:"nxid"`
	Manufacturer string `json:"manufacturer"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Serialized   bool   `json:"serialized"`
}

// List handles GET /api/parts.
func (h *PartsHandler) List(w http.ResponseWriter, r *http.Request) {
	parts, err := store.ListPartTypes(r.Context(), h.DB, r.URL.Query().Get("type"))
	if err != nil {
		slog.Error("failed to list parts", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list parts")
		return
	}
	if parts == nil {
		parts = []model.PartType{}
	}
	jsonResponse(w, http.StatusOK, parts)
}

// Create handles POST /api/parts.
func (h *PartsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req partRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := &model.PartType{
		NXID:         ledger.CanonicalNXID(req.NXID),
		Manufacturer: strings.TrimSpace(req.Manufacturer),
		Name:         strings.TrimSpace(req.Name),
		Type:         strings.TrimSpace(req.Type),
		Serialized:   req.Serialized,
	}
	if p.NXID == "" || p.Name == "" {
		jsonError(w, http.StatusBadRequest, "nxid and name required")
		return
	}

	if err := store.CreatePartType(r.Context(), h.DB, p); err != nil {
		if errors.Is(err, model.ErrExists) {
			jsonError(w, http.StatusConflict, "part already exists")
			return
		}
		slog.Error("failed to create part", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create part")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("part created", "user", claims.Username, "nxid", p.NXID, "serialized", p.Serialized)
	jsonResponse(w, http.StatusCreated, p)
}

// Get handles GET /api/parts/{nxid}. The response includes how many units
// are currently in inventory.
func (h *PartsHandler) Get(w http.ResponseWriter, r *http.Request) {
	nxid := ledger.CanonicalNXID(r.PathValue("nxid"))
	p, err := store.GetPartType(r.Context(), h.DB, nxid)
	if err != nil {
		slog.Error("failed to get part", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get part")
		return
	}
	if p == nil {
		jsonError(w, http.StatusNotFound, "part not found")
		return
	}

	f := model.PartFilter{NXID: nxid, OpenOnly: true}
	total, err := store.CountRecords(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to count part records", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get part")
		return
	}
	f.Location = model.LocationNameDeleted
	deleted, err := store.CountRecords(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to count part records", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get part")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"part":         p,
		"in_inventory": total - deleted,
	})
}

// Update handles PUT /api/parts/{nxid}. The serialized flag cannot change.
func (h *PartsHandler) Update(w http.ResponseWriter, r *http.Request) {
	nxid := ledger.CanonicalNXID(r.PathValue("nxid"))

	var req partRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	p, err := store.GetPartType(r.Context(), h.DB, nxid)
	if err != nil {
		slog.Error("failed to get part", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update part")
		return
	}
	if p == nil {
		jsonError(w, http.StatusNotFound, "part not found")
		return
	}

	p.Manufacturer = strings.TrimSpace(req.Manufacturer)
	p.Name = strings.TrimSpace(req.Name)
	p.Type = strings.TrimSpace(req.Type)
	if err := store.UpdatePartType(r.Context(), h.DB, nxid, p.Manufacturer, p.Name, p.Type); err != nil {
		slog.Error("failed to update part", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update part")
		return
	}

	jsonResponse(w, http.StatusOK, p)
}

// UploadImage handles PUT /api/parts/{nxid}/image.
func (h *PartsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	nxid := ledger.CanonicalNXID(r.PathValue("nxid"))

	p, err := store.GetPartType(r.Context(), h.DB, nxid)
	if err != nil {
		slog.Error("failed to get part", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}
	if p == nil {
		jsonError(w, http.StatusNotFound, "part not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	img, err := imaging.Process(file)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupported) || errors.Is(err, imaging.ErrTooLarge) {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		jsonError(w, http.StatusBadRequest, "invalid image")
		return
	}

	key := img.Key(nxid)
	if err := h.Blobs.Put(r.Context(), key, img.MIME, img.Data); err != nil {
		slog.Error("failed to store image", "nxid", nxid, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}
	if err := store.SetPartTypeImage(r.Context(), h.DB, nxid, key); err != nil {
		slog.Error("failed to set part image", "nxid", nxid, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}
	if p.ImageKey != "" && p.ImageKey != key {
		if err := h.Blobs.Delete(r.Context(), p.ImageKey); err != nil {
			slog.Warn("failed to delete previous image", "key", p.ImageKey, "error", err)
		}
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"image_key": key,
		"width":     img.Width,
		"height":    img.Height,
	})
}

// GetImage handles GET /api/parts/{nxid}/image.
func (h *PartsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	p, err := store.GetPartType(r.Context(), h.DB, ledger.CanonicalNXID(r.PathValue("nxid")))
	if err != nil {
		slog.Error("failed to get part", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get image")
		return
	}
	if p == nil || p.ImageKey == "" {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	obj, err := h.Blobs.Get(r.Context(), p.ImageKey)
	if err != nil {
		slog.Error("failed to get image", "key", p.ImageKey, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get image")
		return
	}
	if obj == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	// Keys are content addressed.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(obj.Data)
}
