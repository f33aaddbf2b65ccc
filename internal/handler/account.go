package handler

import (
	"log/slog"
	"net/http"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// AccountHandler serves the self-service account routes.
type AccountHandler struct {
	auth     *service.AuthService
	accounts *service.AccountService
	catalog  *service.Catalog
	redeemer *service.Redeemer
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(auth *service.AuthService, accounts *service.AccountService, catalog *service.Catalog, redeemer *service.Redeemer, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{auth: auth, accounts: accounts, catalog: catalog, redeemer: redeemer, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	TokenType string     `json:"token_type"`
	ExpiresIn int64      `json:"expires_in"`
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
}

// Login exchanges an email and password for a bearer token.
// POST /api/v1/account/login
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, claims, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err, "Authentication error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: claims.ExpiresAt - claims.IssuedAt,
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
	})
}

// Logout revokes the presented token.
// POST /api/v1/account/logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := h.auth.Logout(r.Context(), p.Token, p.Claims); err != nil {
		writeServiceError(w, err, "Failed to log out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// Me returns the caller's account.
// GET /api/v1/account/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.GetUser(r.Context(), principal(r).Claims.Subject)
	if err != nil {
		writeServiceError(w, err, "Failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Products lists the products available to the caller.
// GET /api/v1/account/products
func (h *AccountHandler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.AccountProducts(r.Context(), principal(r).Claims)
	if err != nil {
		writeServiceError(w, err, "Failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(products))
}

type redeemRequest struct {
	Key string `json:"key" validate:"required"`
}

// Redeem applies a redemption key to the caller's license.
// POST /api/v1/account/redeem
func (h *AccountHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.redeemer.Redeem(r.Context(), req.Key, principal(r).Claims.Subject)
	if err != nil {
		writeServiceError(w, err, "Failed to redeem key")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
