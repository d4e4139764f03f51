package api

import (
	"net/http"

	"github.com/erazemk/nxledger/internal/blob"
	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/ledger"
	"github.com/erazemk/nxledger/internal/lock"
	"github.com/erazemk/nxledger/internal/model"
	"github.com/erazemk/nxledger/internal/store"
)

// Config carries the router's collaborators. Only DB and JWTSecret are
// required; the rest default to in-process implementations over DB.
type Config struct {
	DB          *db.DB
	JWTSecret   string
	Service     *ledger.Service
	History     *ledger.Reconstructor
	Auditor     *ledger.Auditor
	Blobs       blob.Store
	Idempotency lock.Idempotency
}

func (c *Config) defaults() {
	backend := store.NewBackend(c.DB)
	if c.Service == nil {
		c.Service = ledger.NewService(backend, ledger.NewWriter(backend, nil), nil)
	}
	if c.History == nil {
		c.History = ledger.NewReconstructor(backend)
	}
	if c.Auditor == nil {
		c.Auditor = ledger.NewAuditor(backend, nil)
	}
	if c.Blobs == nil {
		c.Blobs = blob.NewSQLStore(c.DB)
	}
	if c.Idempotency == nil {
		c.Idempotency = lock.NewLocalIdempotency()
	}
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(cfg Config) http.Handler {
	cfg.defaults()
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: cfg.DB, JWTSecret: cfg.JWTSecret}
	usersHandler := &UsersHandler{DB: cfg.DB}
	partsHandler := &PartsHandler{DB: cfg.DB, Blobs: cfg.Blobs}
	containersHandler := &ContainersHandler{DB: cfg.DB, Service: cfg.Service, Reconstructor: cfg.History}
	inventoryHandler := &InventoryHandler{DB: cfg.DB, Service: cfg.Service, Reconstructor: cfg.History}
	recordsHandler := &RecordsHandler{Auditor: cfg.Auditor}

	authMW := AuthMiddleware(cfg.JWTSecret, cfg.DB)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)
	once := Idempotent(cfg.Idempotency)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Part catalog: read (all roles), write (manager+).
	mux.Handle("GET /api/parts", authMW(http.HandlerFunc(partsHandler.List)))
	mux.Handle("POST /api/parts", authMW(requireManager(http.HandlerFunc(partsHandler.Create))))
	mux.Handle("GET /api/parts/{nxid}", authMW(http.HandlerFunc(partsHandler.Get)))
	mux.Handle("PUT /api/parts/{nxid}", authMW(requireManager(http.HandlerFunc(partsHandler.Update))))
	mux.Handle("PUT /api/parts/{nxid}/image", authMW(requireManager(http.HandlerFunc(partsHandler.UploadImage))))
	mux.Handle("GET /api/parts/{nxid}/image", authMW(http.HandlerFunc(partsHandler.GetImage)))

	// Containers: read (all roles), create and update (all roles), delete (manager+).
	for _, kind := range model.ContainerKinds {
		base := "/api/" + collection(kind)
		h := containersHandler.forKind(kind)
		mux.Handle("GET "+base, authMW(http.HandlerFunc(h.List)))
		mux.Handle("POST "+base, authMW(once(http.HandlerFunc(h.Create))))
		mux.Handle("GET "+base+"/{tag}", authMW(http.HandlerFunc(h.Get)))
		mux.Handle("PUT "+base+"/{tag}", authMW(once(http.HandlerFunc(h.Update))))
		mux.Handle("POST "+base+"/{tag}/dry-run", authMW(http.HandlerFunc(h.DryRun)))
		mux.Handle("DELETE "+base+"/{tag}", authMW(requireManager(http.HandlerFunc(h.Delete))))
		mux.Handle("GET "+base+"/{tag}/history", authMW(http.HandlerFunc(h.History)))
		mux.Handle("GET "+base+"/{tag}/events", authMW(http.HandlerFunc(h.Events)))
	}

	// Inventory: own (all roles), receiving (manager+).
	mux.Handle("GET /api/inventory", authMW(http.HandlerFunc(inventoryHandler.List)))
	mux.Handle("GET /api/inventory/history", authMW(http.HandlerFunc(inventoryHandler.History)))
	mux.Handle("POST /api/inventory/receive", authMW(requireManager(once(http.HandlerFunc(inventoryHandler.Receive)))))
	mux.Handle("POST /api/inventory/transfer", authMW(once(http.HandlerFunc(inventoryHandler.Transfer))))

	// Rooms and kiosks.
	mux.Handle("GET /api/rooms/{building}/{name}", authMW(http.HandlerFunc(inventoryHandler.Room)))
	mux.Handle("GET /api/rooms/{building}/{name}/history", authMW(http.HandlerFunc(inventoryHandler.RoomHistory)))

	// Chains.
	mux.Handle("GET /api/records/{id}/chain", authMW(http.HandlerFunc(recordsHandler.Chain)))
	mux.Handle("GET /api/serials/{serial}", authMW(http.HandlerFunc(recordsHandler.Serial)))
	mux.Handle("GET /api/audit", authMW(requireAdmin(http.HandlerFunc(recordsHandler.Verify))))

	return mux
}

func collection(kind model.ContainerKind) string {
	if kind == model.KindBox {
		return "boxes"
	}
	return string(kind) + "s"
}
