package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// License-key request headers.
const (
	HeaderLicenseKey = "X-License-Key"
	HeaderProductID  = "X-Product-ID"
	HeaderHWID       = "X-HWID"
)

// AuthHandler serves the client-facing access checks: the credential-based
// /auth route and the license-key routes used by distributed clients.
type AuthHandler struct {
	authz   *service.Authorizer
	catalog *service.Catalog
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authz *service.Authorizer, catalog *service.Catalog, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{authz: authz, catalog: catalog, logger: logger}
}

type authorizeRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	HWID      string `json:"hwid" validate:"required"`
}

// authorizeResponse is the body of every access check. TimeRemaining is set
// only on success.
type authorizeResponse struct {
	Success       bool          `json:"success"`
	Outcome       model.Outcome `json:"outcome"`
	TimeRemaining *int64        `json:"time_remaining,omitempty"`
	Message       string        `json:"message,omitempty"`
}

var outcomeMessages = map[model.Outcome]string{
	model.OutcomeOK:             "Access granted.",
	model.OutcomeInvalidLicense: "Product not found or license invalid.",
	model.OutcomeHWIDMismatch:   "HWID mismatch. If you recently changed your hardware, please contact support.",
	model.OutcomeLicenseExpired: "License expired.",
	model.OutcomeLicenseFrozen:  "This product is temporarily frozen. Your remaining time is preserved.",
	model.OutcomeBanned:         "Access has been banned. Contact support for more information.",
	model.OutcomeMissingHeaders: "License key, product ID and HWID are required.",
}

// outcomeStatus maps a decision onto an HTTP status. Only bans and
// fingerprint mismatches change the status; every other denial is a 200
// with success false.
func outcomeStatus(o model.Outcome) int {
	switch o {
	case model.OutcomeBanned:
		return http.StatusForbidden
	case model.OutcomeHWIDMismatch:
		return http.StatusUnauthorized
	default:
		return http.StatusOK
	}
}

func (h *AuthHandler) writeDecision(w http.ResponseWriter, d service.Decision) {
	resp := authorizeResponse{
		Success: d.OK(),
		Outcome: d.Outcome,
		Message: outcomeMessages[d.Outcome],
	}
	if d.OK() {
		remaining := d.Remaining
		resp.TimeRemaining = &remaining
	}
	writeJSON(w, outcomeStatus(d.Outcome), resp)
}

// Authorize checks the caller's access to a product.
// POST /api/v1/auth
func (h *AuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, authorizeResponse{
			Outcome: model.OutcomeMissingHeaders,
			Message: err.Error(),
		})
		return
	}

	d, err := h.authz.Authorize(r.Context(), service.AuthorizeRequest{
		Claims:    principal(r).Claims,
		ProductID: req.ProductID,
		HWID:      req.HWID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error - contact support.")
		return
	}
	h.writeDecision(w, d)
}

// LicenseAuth checks access for a license key presented in headers.
// POST /api/v1/license/auth
func (h *AuthHandler) LicenseAuth(w http.ResponseWriter, r *http.Request) {
	d, err := h.authz.Authorize(r.Context(), service.AuthorizeRequest{
		LicenseKey: r.Header.Get(HeaderLicenseKey),
		ProductID:  r.Header.Get(HeaderProductID),
		HWID:       r.Header.Get(HeaderHWID),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error - contact support.")
		return
	}
	h.writeDecision(w, d)
}

// LicenseProduct reports the entitlement of the presented license to the
// presented product.
// GET /api/v1/license/product
func (h *AuthHandler) LicenseProduct(w http.ResponseWriter, r *http.Request) {
	key, productID := r.Header.Get(HeaderLicenseKey), r.Header.Get(HeaderProductID)
	if key == "" || productID == "" {
		writeError(w, http.StatusBadRequest, HeaderLicenseKey+" and "+HeaderProductID+" headers are required")
		return
	}
	st, err := h.catalog.LicenseProductStatus(r.Context(), key, productID)
	if err != nil {
		writeServiceError(w, err, "Failed to read license product")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// StartSession opens a client session for the presented license.
// POST /api/v1/license/sessions
func (h *AuthHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(HeaderLicenseKey)
	if key == "" {
		writeError(w, http.StatusBadRequest, HeaderLicenseKey+" header is required")
		return
	}
	sess, err := h.catalog.StartSession(r.Context(), key)
	if err != nil {
		writeServiceError(w, err, "Failed to start session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// EndSession closes a session of the presented license.
// DELETE /api/v1/license/sessions/{sessionID}
func (h *AuthHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(HeaderLicenseKey)
	if key == "" {
		writeError(w, http.StatusBadRequest, HeaderLicenseKey+" header is required")
		return
	}
	if err := h.catalog.EndSession(r.Context(), key, chi.URLParam(r, "sessionID")); err != nil {
		writeServiceError(w, err, "Failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
