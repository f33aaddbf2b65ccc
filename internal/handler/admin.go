package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// AdminHandler manages products, keys, licenses, users, bans, and the
// in-memory log buffer. Staff roles may read; writes are admin only and
// enforced by the router.
type AdminHandler struct {
	auth     *service.AuthService
	accounts *service.AccountService
	catalog  *service.Catalog
	keys     *service.KeyIssuer
	ring     *audit.Ring
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(auth *service.AuthService, accounts *service.AccountService, catalog *service.Catalog, keys *service.KeyIssuer, ring *audit.Ring, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		auth:     auth,
		accounts: accounts,
		catalog:  catalog,
		keys:     keys,
		ring:     ring,
		logger:   logger,
	}
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// ListProducts returns every product.
// GET /api/v1/admin/products
func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(products))
}

type createProductRequest struct {
	ID   string `json:"id" validate:"required,max=128"`
	Name string `json:"name" validate:"max=256"`
}

// CreateProduct adds a product.
// POST /api/v1/admin/products
func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.catalog.CreateProduct(r.Context(), req.ID, req.Name)
	if err != nil {
		writeServiceError(w, err, "Failed to create product")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetProduct returns one product.
// GET /api/v1/admin/products/{productID}
func (h *AdminHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(w, err, "Failed to get product")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProduct removes a product and every grant of it.
// DELETE /api/v1/admin/products/{productID}
func (h *AdminHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		writeServiceError(w, err, "Failed to delete product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// FreezeProduct pauses entitlement time for a product.
// POST /api/v1/admin/products/{productID}/freeze
func (h *AdminHandler) FreezeProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	if err := h.catalog.FreezeProduct(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to freeze product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "product_id": id})
}

// UnfreezeProduct lifts a freeze and compensates every holder.
// POST /api/v1/admin/products/{productID}/unfreeze
func (h *AdminHandler) UnfreezeProduct(w http.ResponseWriter, r *http.Request) {
	res, err := h.catalog.UnfreezeProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(w, err, "Failed to unfreeze product")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type compensateRequest struct {
	TimeHours int64 `json:"time_hours" validate:"required,min=1"`
}

// CompensateProduct adds hours to every holder of a product.
// POST /api/v1/admin/products/{productID}/compensate
func (h *AdminHandler) CompensateProduct(w http.ResponseWriter, r *http.Request) {
	var req compensateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "productID")
	n, err := h.catalog.CompensateProduct(r.Context(), id, req.TimeHours)
	if err != nil {
		writeServiceError(w, err, "Failed to compensate product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"product_id":        id,
		"time_hours":        req.TimeHours,
		"users_compensated": n,
	})
}

// ---------------------------------------------------------------------------
// Redemption keys
// ---------------------------------------------------------------------------

type generateKeysRequest struct {
	Duration int64 `json:"duration" validate:"required,min=1"`
	Count    int   `json:"count" validate:"required,min=1,max=1000"`
}

// GenerateKeys creates a batch of redemption keys for a product. When the
// collision bound stops the batch early the keys already created are
// returned with a 503.
// POST /api/v1/admin/products/{productID}/keys
func (h *AdminHandler) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	var req generateKeysRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "productID")
	keys, err := h.keys.GenerateRedemptionKeys(r.Context(), id, req.Duration, req.Count)
	if err != nil {
		if len(keys) > 0 && errors.Is(err, service.ErrCollisionExhausted) {
			writeError(w, http.StatusServiceUnavailable, err.Error(), map[string]interface{}{"keys": keys})
			return
		}
		writeServiceError(w, err, "Failed to generate keys")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"product_id": id,
		"duration":   req.Duration,
		"keys":       keys,
	})
}

// ListKeys returns the unredeemed keys of a product.
// GET /api/v1/admin/products/{productID}/keys
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.catalog.ListRedemptionKeys(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(w, err, "Failed to list keys")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(keys))
}

// DeleteKey withdraws an unredeemed key.
// DELETE /api/v1/admin/keys/{key}
func (h *AdminHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteRedemptionKey(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeServiceError(w, err, "Failed to delete key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Licenses
// ---------------------------------------------------------------------------

type licenseProductsRequest struct {
	Products map[string]int64 `json:"products" validate:"required,min=1,dive,keys,required,endkeys,min=0"`
}

// GenerateLicense creates a license granting each product its duration in
// seconds.
// POST /api/v1/admin/licenses
func (h *AdminHandler) GenerateLicense(w http.ResponseWriter, r *http.Request) {
	var req licenseProductsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.keys.GenerateLicense(r.Context(), req.Products)
	if err != nil {
		writeServiceError(w, err, "Failed to generate license")
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// ListLicenses returns every license with its grants.
// GET /api/v1/admin/licenses
func (h *AdminHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.catalog.ListLicenses(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list licenses")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(licenses))
}

// GetLicense returns a license with its grants and sessions.
// GET /api/v1/admin/licenses/{licenseKey}
func (h *AdminHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	l, err := h.catalog.GetLicense(r.Context(), chi.URLParam(r, "licenseKey"))
	if err != nil {
		writeServiceError(w, err, "Failed to get license")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// DeleteLicense removes a license.
// DELETE /api/v1/admin/licenses/{licenseKey}
func (h *AdminHandler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteLicense(r.Context(), chi.URLParam(r, "licenseKey")); err != nil {
		writeServiceError(w, err, "Failed to delete license")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// AddLicenseProducts grants products to a license, replacing existing grants.
// POST /api/v1/admin/licenses/{licenseKey}/products
func (h *AdminHandler) AddLicenseProducts(w http.ResponseWriter, r *http.Request) {
	var req licenseProductsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := chi.URLParam(r, "licenseKey")
	if err := h.catalog.AddProductsToLicense(r.Context(), key, req.Products); err != nil {
		writeServiceError(w, err, "Failed to add products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "license_key": key})
}

type removeProductsRequest struct {
	ProductIDs []string `json:"product_ids" validate:"required,min=1,dive,required"`
}

// RemoveLicenseProducts revokes grants from a license.
// POST /api/v1/admin/licenses/{licenseKey}/remove-products
func (h *AdminHandler) RemoveLicenseProducts(w http.ResponseWriter, r *http.Request) {
	var req removeProductsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := chi.URLParam(r, "licenseKey")
	if err := h.catalog.RemoveProductsFromLicense(r.Context(), key, req.ProductIDs); err != nil {
		writeServiceError(w, err, "Failed to remove products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "license_key": key})
}

// ResetHWID unbinds a license from its hardware.
// POST /api/v1/admin/licenses/{licenseKey}/reset-hwid
func (h *AdminHandler) ResetHWID(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.ResetHWID(r.Context(), chi.URLParam(r, "licenseKey")); err != nil {
		writeServiceError(w, err, "Failed to reset hwid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListLicenseSessions returns the sessions of a license.
// GET /api/v1/admin/licenses/{licenseKey}/sessions
func (h *AdminHandler) ListLicenseSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.catalog.ListSessions(r.Context(), chi.URLParam(r, "licenseKey"))
	if err != nil {
		writeServiceError(w, err, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(sessions))
}

// ListActiveSessions returns every open session.
// GET /api/v1/admin/sessions
func (h *AdminHandler) ListActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.catalog.ListActiveSessions(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(sessions))
}

// ListLogins returns recent authorization attempts, optionally for one
// license given as ?license_key=.
// GET /api/v1/admin/logins
func (h *AdminHandler) ListLogins(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)
	attempts, err := h.catalog.LoginAttempts(r.Context(), r.URL.Query().Get("license_key"), limit)
	if err != nil {
		writeServiceError(w, err, "Failed to list login attempts")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(attempts))
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ListUsers returns every user.
// GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(users))
}

type createUserRequest struct {
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"required,min=8"`
	Role     model.Role `json:"role" validate:"omitempty,oneof=user support dev admin"`
}

// CreateUser registers a user.
// POST /api/v1/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.accounts.CreateUser(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		writeServiceError(w, err, "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetUser returns one user.
// GET /api/v1/admin/users/{userID}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err, "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type setRoleRequest struct {
	Role model.Role `json:"role" validate:"required,oneof=user support dev admin"`
}

// SetRole changes a user's role and revokes their earlier credentials.
// PUT /api/v1/admin/users/{userID}/role
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "userID")
	if err := h.accounts.SetRole(r.Context(), principal(r).Claims, id, req.Role); err != nil {
		writeServiceError(w, err, "Failed to set role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user_id": id, "role": req.Role})
}

// BanUser bans a user.
// POST /api/v1/admin/users/{userID}/ban
func (h *AdminHandler) BanUser(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, true)
}

// UnbanUser lifts a user ban.
// DELETE /api/v1/admin/users/{userID}/ban
func (h *AdminHandler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, false)
}

func (h *AdminHandler) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	id := chi.URLParam(r, "userID")
	if err := h.accounts.SetBanned(r.Context(), id, banned); err != nil {
		writeServiceError(w, err, "Failed to update ban")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user_id": id, "banned": banned})
}

// RevokeUser rejects every credential issued to a user before now.
// POST /api/v1/admin/users/{userID}/revoke
func (h *AdminHandler) RevokeUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if err := h.accounts.RevokeCredentials(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to revoke credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user_id": id})
}

// ClearRevocation lifts a user's credential cutoff.
// DELETE /api/v1/admin/users/{userID}/revoke
func (h *AdminHandler) ClearRevocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if err := h.auth.ClearRevocations(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to clear revocation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user_id": id})
}

// ---------------------------------------------------------------------------
// Hardware bans
// ---------------------------------------------------------------------------

// ListBannedHWIDs returns the hardware ban list.
// GET /api/v1/admin/hwid-bans
func (h *AdminHandler) ListBannedHWIDs(w http.ResponseWriter, r *http.Request) {
	bans, err := h.accounts.ListBannedHWIDs(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list hwid bans")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(bans))
}

type banHWIDRequest struct {
	HWID   string `json:"hwid" validate:"required"`
	Reason string `json:"reason"`
}

// BanHWID adds a fingerprint to the ban list.
// POST /api/v1/admin/hwid-bans
func (h *AdminHandler) BanHWID(w http.ResponseWriter, r *http.Request) {
	var req banHWIDRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.accounts.BanHWID(r.Context(), req.HWID, req.Reason); err != nil {
		writeServiceError(w, err, "Failed to ban hwid")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "hwid": req.HWID})
}

// UnbanHWID removes a fingerprint from the ban list.
// DELETE /api/v1/admin/hwid-bans/{hwid}
func (h *AdminHandler) UnbanHWID(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.UnbanHWID(r.Context(), chi.URLParam(r, "hwid")); err != nil {
		writeServiceError(w, err, "Failed to unban hwid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// In-memory logs
// ---------------------------------------------------------------------------

// GetLogs returns the newest buffered log entries, oldest first.
// GET /api/v1/admin/logs
func (h *AdminHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 100), 1, h.ring.Cap())
	writeJSON(w, http.StatusOK, model.NewListResponse(h.ring.Recent(limit)))
}

// ClearLogs empties the log buffer.
// DELETE /api/v1/admin/logs
func (h *AdminHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	h.ring.Clear()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
