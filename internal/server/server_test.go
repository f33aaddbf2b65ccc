package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keygate/keygate/internal/app"
	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testAPIKey   = "test-service-api-key"
	testPassword = "supersecretpassword"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server *Server
	app    *app.App
	redis  *miniredis.Miniredis
}

// newTestEnv creates a fresh test environment with an in-memory store, a
// miniredis revocation store, and a fully wired Server. mutate may adjust
// the config before wiring.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.JWTSecret = strings.Repeat("x", config.MinSecretLength)
	cfg.Auth.APIKey = testAPIKey
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	ring := audit.NewRing(cfg.Audit.RingCapacity)
	a, err := app.New(context.Background(), cfg, app.Options{
		Logger: slog.New(audit.NewHandler(slog.NewTextHandler(io.Discard, nil), ring)),
		Ring:   ring,
		Redis:  client,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	return &testEnv{server: New(a, "test"), app: a, redis: mr}
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes a request with a bearer token.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doAdmin executes a request as the service principal.
func (e *testEnv) doAdmin(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"X-API-Key": testAPIKey,
	})
}

// licenseAuth calls the license-key authorization route.
func (e *testEnv) licenseAuth(t *testing.T, key, productID, hwid string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, "POST", "/api/v1/license/auth", nil, map[string]string{
		"X-License-Key": key,
		"X-Product-ID":  productID,
		"X-HWID":        hwid,
	})
}

// seedProductLicense creates a product and a license granting it.
func (e *testEnv) seedProductLicense(t *testing.T, productID string, duration int64) string {
	t.Helper()
	rr := e.doAdmin(t, "POST", "/api/v1/admin/products", jsonBody(t, map[string]string{"id": productID}))
	assertStatus(t, rr, http.StatusCreated)

	rr = e.doAdmin(t, "POST", "/api/v1/admin/licenses", jsonBody(t, map[string]interface{}{
		"products": map[string]int64{productID: duration},
	}))
	assertStatus(t, rr, http.StatusCreated)
	var lic model.License
	decodeJSON(t, rr, &lic)
	if lic.Key == "" {
		t.Fatal("seedProductLicense: empty license key")
	}
	return lic.Key
}

// seedUser creates a user through the admin API and logs in.
func (e *testEnv) seedUser(t *testing.T, email string, role model.Role) (id, token string) {
	t.Helper()
	rr := e.doAdmin(t, "POST", "/api/v1/admin/users", jsonBody(t, map[string]string{
		"email":    email,
		"password": testPassword,
		"role":     string(role),
	}))
	assertStatus(t, rr, http.StatusCreated)
	var u model.User
	decodeJSON(t, rr, &u)
	return u.ID, e.login(t, email)
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/account/login", jsonBody(t, map[string]string{
		"email":    email,
		"password": testPassword,
	}), nil)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Token string `json:"token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("login: got empty token")
	}
	return resp.Token
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

type authorizeResponse struct {
	Success       bool          `json:"success"`
	Outcome       model.Outcome `json:"outcome"`
	TimeRemaining *int64        `json:"time_remaining"`
}

// ---------------------------------------------------------------------------
// Probes and documents
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	env.redis.Close()
	rr = env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "degraded" || resp.Checks["database"] != "ok" || !strings.HasPrefix(resp.Checks["redis"], "error") {
		t.Errorf("readyz = %+v, want redis error only", resp)
	}
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Servers []struct{ URL string }     `json:"servers"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://example.com/api/v1" {
		t.Errorf("servers = %+v", doc.Servers)
	}
	for _, p := range []string{"/license/auth", "/account/redeem", "/admin/products/{productID}/unfreeze"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("path %s missing", p)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.seedProductLicense(t, "pro", 3600)
	env.licenseAuth(t, key, "pro", "hw-1")

	rr := env.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	for _, want := range []string{
		"keygate_revocation_store_errors_total",
		`keygate_authorization_decisions_total{outcome="Ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "OPTIONS", "/api/v1/license/auth", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "X-License-Key,X-Product-ID,X-HWID",
	})
	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

// ---------------------------------------------------------------------------
// License-key clients
// ---------------------------------------------------------------------------

func TestLicenseAuthFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.seedProductLicense(t, "pro", 3600)

	// First use binds the hardware ID.
	rr := env.licenseAuth(t, key, "pro", "hw-1")
	assertStatus(t, rr, http.StatusOK)
	var resp authorizeResponse
	decodeJSON(t, rr, &resp)
	if !resp.Success || resp.Outcome != model.OutcomeOK || resp.TimeRemaining == nil {
		t.Fatalf("first auth = %+v", resp)
	}
	if *resp.TimeRemaining <= 0 || *resp.TimeRemaining > 3600 {
		t.Errorf("time_remaining = %d, want (0, 3600]", *resp.TimeRemaining)
	}

	tests := []struct {
		name      string
		key, prod string
		hwid      string
		status    int
		outcome   model.Outcome
	}{
		{"other device", key, "pro", "hw-2", http.StatusUnauthorized, model.OutcomeHWIDMismatch},
		{"unknown product", key, "other", "hw-1", http.StatusOK, model.OutcomeInvalidLicense},
		{"unknown license", "AAAAA-BBBBB-CCCCC", "pro", "hw-1", http.StatusOK, model.OutcomeInvalidLicense},
		{"missing hwid", key, "pro", "", http.StatusOK, model.OutcomeMissingHeaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.licenseAuth(t, tt.key, tt.prod, tt.hwid)
			assertStatus(t, rr, tt.status)
			var resp authorizeResponse
			decodeJSON(t, rr, &resp)
			if resp.Success || resp.Outcome != tt.outcome {
				t.Errorf("got %+v, want outcome %s", resp, tt.outcome)
			}
		})
	}

	// Frozen products deny access; banned hardware is refused outright.
	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/products/pro/freeze", nil), http.StatusOK)
	rr = env.licenseAuth(t, key, "pro", "hw-1")
	decodeJSON(t, rr, &resp)
	if resp.Outcome != model.OutcomeLicenseFrozen {
		t.Errorf("frozen outcome = %s", resp.Outcome)
	}
	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/products/pro/unfreeze", nil), http.StatusOK)

	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/hwid-bans", jsonBody(t, map[string]string{"hwid": "hw-1", "reason": "chargeback"})), http.StatusCreated)
	rr = env.licenseAuth(t, key, "pro", "hw-1")
	assertStatus(t, rr, http.StatusForbidden)
	decodeJSON(t, rr, &resp)
	if resp.Outcome != model.OutcomeBanned {
		t.Errorf("banned outcome = %s", resp.Outcome)
	}

	// Staff can reset the binding after unbanning.
	assertStatus(t, env.doAdmin(t, "DELETE", "/api/v1/admin/hwid-bans/hw-1", nil), http.StatusOK)
	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/licenses/"+key+"/reset-hwid", nil), http.StatusOK)
	assertStatus(t, env.licenseAuth(t, key, "pro", "hw-2"), http.StatusOK)
}

func TestLicenseAuthAttemptsAreLogged(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.seedProductLicense(t, "pro", 3600)
	env.licenseAuth(t, key, "pro", "hw-1")
	env.licenseAuth(t, key, "pro", "hw-2")
	env.app.Recorder.Wait()

	rr := env.doAdmin(t, "GET", "/api/v1/admin/logins?license_key="+key, nil)
	assertStatus(t, rr, http.StatusOK)
	var resp model.ListResponse[model.LoginAttempt]
	decodeJSON(t, rr, &resp)
	if resp.Meta.Count != 2 {
		t.Fatalf("attempts = %+v, want 2", resp.Resource)
	}

	rr = env.doAdmin(t, "GET", "/api/v1/admin/logs?limit=1000", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "authorization decision") {
		t.Errorf("log ring missing decision entries: %s", rr.Body.String())
	}
}

func TestLicenseProductAndSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.seedProductLicense(t, "pro", 3600)
	headers := map[string]string{"X-License-Key": key, "X-Product-ID": "pro"}

	rr := env.do(t, "GET", "/api/v1/license/product", nil, headers)
	assertStatus(t, rr, http.StatusOK)
	var st struct {
		ProductID string `json:"product_id"`
		Duration  int64  `json:"duration"`
		Expired   bool   `json:"expired"`
	}
	decodeJSON(t, rr, &st)
	if st.ProductID != "pro" || st.Duration != 3600 || st.Expired {
		t.Errorf("product status = %+v", st)
	}

	assertStatus(t, env.do(t, "GET", "/api/v1/license/product", nil, nil), http.StatusBadRequest)

	rr = env.do(t, "POST", "/api/v1/license/sessions", nil, headers)
	assertStatus(t, rr, http.StatusCreated)
	var sess model.Session
	decodeJSON(t, rr, &sess)

	rr = env.doAdmin(t, "GET", "/api/v1/admin/sessions", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), sess.ID) {
		t.Errorf("active sessions missing %s", sess.ID)
	}

	assertStatus(t, env.do(t, "DELETE", "/api/v1/license/sessions/"+sess.ID, nil, headers), http.StatusOK)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/license/sessions/"+sess.ID, nil, headers), http.StatusNotFound)
}

func TestLicenseAuthRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, Limit: 2, Window: time.Minute}
	})

	for i := 0; i < 2; i++ {
		assertStatus(t, env.licenseAuth(t, "AAAAA-BBBBB-CCCCC", "pro", "hw"), http.StatusOK)
	}
	assertStatus(t, env.licenseAuth(t, "AAAAA-BBBBB-CCCCC", "pro", "hw"), http.StatusTooManyRequests)
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func TestAccountRedeemAndAuthorize(t *testing.T) {
	env := newTestEnv(t, nil)
	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/products", jsonBody(t, map[string]string{"id": "pro"})), http.StatusCreated)
	_, token := env.seedUser(t, "player@example.com", model.RoleUser)

	rr := env.doAdmin(t, "POST", "/api/v1/admin/products/pro/keys", jsonBody(t, map[string]int64{"duration": 3600, "count": 2}))
	assertStatus(t, rr, http.StatusCreated)
	var gen struct {
		Keys []string `json:"keys"`
	}
	decodeJSON(t, rr, &gen)
	if len(gen.Keys) != 2 {
		t.Fatalf("keys = %v", gen.Keys)
	}

	// Before redemption the product is not held.
	rr = env.doAuth(t, "POST", "/api/v1/auth", jsonBody(t, map[string]string{"product_id": "pro", "hwid": "h1"}), token)
	var auth authorizeResponse
	decodeJSON(t, rr, &auth)
	if auth.Success {
		t.Fatalf("authorized before redemption: %+v", auth)
	}

	rr = env.doAuth(t, "POST", "/api/v1/account/redeem", jsonBody(t, map[string]string{"key": gen.Keys[0]}), token)
	assertStatus(t, rr, http.StatusOK)
	var red struct {
		Outcome model.RedeemOutcome `json:"outcome"`
	}
	decodeJSON(t, rr, &red)
	if red.Outcome != model.RedeemGranted {
		t.Errorf("first redeem = %s, want Granted", red.Outcome)
	}

	rr = env.doAuth(t, "POST", "/api/v1/account/redeem", jsonBody(t, map[string]string{"key": gen.Keys[1]}), token)
	decodeJSON(t, rr, &red)
	if red.Outcome != model.RedeemExtended {
		t.Errorf("second redeem = %s, want Extended", red.Outcome)
	}

	// A used key is gone.
	rr = env.doAuth(t, "POST", "/api/v1/account/redeem", jsonBody(t, map[string]string{"key": gen.Keys[0]}), token)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.doAuth(t, "POST", "/api/v1/auth", jsonBody(t, map[string]string{"product_id": "pro", "hwid": "h1"}), token)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &auth)
	if !auth.Success || auth.TimeRemaining == nil || *auth.TimeRemaining <= 3600 {
		t.Errorf("authorize after redeem = %+v, want more than one key's worth", auth)
	}

	rr = env.doAuth(t, "GET", "/api/v1/account/products", nil, token)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"product_id":"pro"`) {
		t.Errorf("account products = %s", rr.Body.String())
	}
}

func TestAccountLoginAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.seedUser(t, "user@example.com", model.RoleUser)

	rr := env.doAuth(t, "GET", "/api/v1/account/me", nil, token)
	assertStatus(t, rr, http.StatusOK)
	var me model.User
	decodeJSON(t, rr, &me)
	if me.Email != "user@example.com" || me.LicenseKey == "" {
		t.Errorf("me = %+v", me)
	}

	rr = env.do(t, "POST", "/api/v1/account/login", jsonBody(t, map[string]string{
		"email": "user@example.com", "password": "wrong-password",
	}), nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	assertStatus(t, env.doAuth(t, "POST", "/api/v1/account/logout", nil, token), http.StatusOK)
	assertStatus(t, env.doAuth(t, "GET", "/api/v1/account/me", nil, token), http.StatusUnauthorized)

	// Account routes act on a user; the service key has none.
	assertStatus(t, env.doAdmin(t, "GET", "/api/v1/account/me", nil), http.StatusForbidden)
}

func TestRevocationOutageFailClosed(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.RevocationFailOpen = false
	})
	_, token := env.seedUser(t, "user@example.com", model.RoleUser)

	env.redis.Close()
	assertStatus(t, env.doAuth(t, "GET", "/api/v1/account/me", nil, token), http.StatusServiceUnavailable)
}

func TestRevocationOutageFailOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.seedUser(t, "user@example.com", model.RoleUser)

	env.redis.Close()
	assertStatus(t, env.doAuth(t, "GET", "/api/v1/account/me", nil, token), http.StatusOK)
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

func TestAdminAccessControl(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, userToken := env.seedUser(t, "user@example.com", model.RoleUser)

	assertStatus(t, env.do(t, "GET", "/api/v1/admin/products", nil, nil), http.StatusUnauthorized)
	assertStatus(t, env.do(t, "GET", "/api/v1/admin/products", nil, map[string]string{"X-API-Key": "wrong"}), http.StatusUnauthorized)
	assertStatus(t, env.doAuth(t, "GET", "/api/v1/admin/products", nil, userToken), http.StatusForbidden)

	// Promote to support: reads allowed, writes refused.
	rr := env.doAdmin(t, "PUT", "/api/v1/admin/users/"+userID+"/role", jsonBody(t, map[string]string{"role": "support"}))
	assertStatus(t, rr, http.StatusOK)
	staffToken := env.login(t, "user@example.com")

	assertStatus(t, env.doAuth(t, "GET", "/api/v1/admin/products", nil, staffToken), http.StatusOK)
	assertStatus(t, env.doAuth(t, "GET", "/api/v1/admin/logs", nil, staffToken), http.StatusOK)
	assertStatus(t, env.doAuth(t, "POST", "/api/v1/admin/products", jsonBody(t, map[string]string{"id": "pro"}), staffToken), http.StatusForbidden)
	assertStatus(t, env.doAuth(t, "DELETE", "/api/v1/admin/logs", nil, staffToken), http.StatusForbidden)
}

func TestAdminCannotDemoteSelf(t *testing.T) {
	env := newTestEnv(t, nil)
	adminID, _ := env.seedUser(t, "admin@example.com", model.RoleAdmin)
	adminToken := env.login(t, "admin@example.com")

	rr := env.doAuth(t, "PUT", "/api/v1/admin/users/"+adminID+"/role", jsonBody(t, map[string]string{"role": "user"}), adminToken)
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.doAuth(t, "PUT", "/api/v1/admin/users/"+adminID+"/role", jsonBody(t, map[string]string{"role": "owner"}), adminToken)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestAdminProductLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.seedProductLicense(t, "pro", 3600)

	rr := env.doAdmin(t, "POST", "/api/v1/admin/products", jsonBody(t, map[string]string{"id": "pro"}))
	assertStatus(t, rr, http.StatusConflict)

	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/products/pro/freeze", nil), http.StatusOK)
	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/products/pro/freeze", nil), http.StatusConflict)

	rr = env.doAdmin(t, "POST", "/api/v1/admin/products/pro/unfreeze", nil)
	assertStatus(t, rr, http.StatusOK)
	var unfreeze struct {
		ProductID string `json:"product_id"`
		FrozenFor int64  `json:"frozen_for"`
	}
	decodeJSON(t, rr, &unfreeze)
	if unfreeze.ProductID != "pro" || unfreeze.FrozenFor < 0 {
		t.Errorf("unfreeze = %+v", unfreeze)
	}

	rr = env.doAdmin(t, "POST", "/api/v1/admin/products/pro/compensate", jsonBody(t, map[string]int64{"time_hours": 2}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAdmin(t, "GET", "/api/v1/admin/licenses/"+key, nil)
	assertStatus(t, rr, http.StatusOK)
	var lic model.License
	decodeJSON(t, rr, &lic)
	if len(lic.Products) != 1 || lic.Products[0].Duration != 3600+7200 {
		t.Errorf("license after compensate = %+v", lic)
	}

	rr = env.doAdmin(t, "POST", "/api/v1/admin/products/missing/freeze", nil)
	assertStatus(t, rr, http.StatusNotFound)

	assertStatus(t, env.doAdmin(t, "DELETE", "/api/v1/admin/products/pro", nil), http.StatusOK)
	assertStatus(t, env.doAdmin(t, "GET", "/api/v1/admin/products/pro", nil), http.StatusNotFound)
}

func TestAdminRedemptionKeys(t *testing.T) {
	env := newTestEnv(t, nil)
	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/products", jsonBody(t, map[string]string{"id": "pro"})), http.StatusCreated)

	for _, body := range []map[string]int64{
		{"duration": 60, "count": 0},
		{"duration": 60, "count": 1001},
		{"duration": 0, "count": 1},
	} {
		rr := env.doAdmin(t, "POST", "/api/v1/admin/products/pro/keys", jsonBody(t, body))
		assertStatus(t, rr, http.StatusBadRequest)
	}

	rr := env.doAdmin(t, "POST", "/api/v1/admin/products/pro/keys", jsonBody(t, map[string]int64{"duration": 60, "count": 3}))
	assertStatus(t, rr, http.StatusCreated)
	var gen struct {
		Keys []string `json:"keys"`
	}
	decodeJSON(t, rr, &gen)

	rr = env.doAdmin(t, "GET", "/api/v1/admin/products/pro/keys", nil)
	var list model.ListResponse[model.RedemptionKey]
	decodeJSON(t, rr, &list)
	if list.Meta.Count != 3 {
		t.Fatalf("listed %d keys, want 3", list.Meta.Count)
	}

	assertStatus(t, env.doAdmin(t, "DELETE", "/api/v1/admin/keys/"+gen.Keys[0], nil), http.StatusOK)
	assertStatus(t, env.doAdmin(t, "DELETE", "/api/v1/admin/keys/"+gen.Keys[0], nil), http.StatusNotFound)
}

func TestAdminLicenseProducts(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.seedProductLicense(t, "pro", 3600)
	assertStatus(t, env.doAdmin(t, "POST", "/api/v1/admin/products", jsonBody(t, map[string]string{"id": "lite"})), http.StatusCreated)

	rr := env.doAdmin(t, "POST", "/api/v1/admin/licenses/"+key+"/products", jsonBody(t, map[string]interface{}{
		"products": map[string]int64{"lite": 600},
	}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAdmin(t, "POST", "/api/v1/admin/licenses/"+key+"/remove-products", jsonBody(t, map[string]interface{}{
		"product_ids": []string{"pro"},
	}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAdmin(t, "GET", "/api/v1/admin/licenses/"+key, nil)
	var lic model.License
	decodeJSON(t, rr, &lic)
	if len(lic.Products) != 1 || lic.Products[0].ProductID != "lite" {
		t.Errorf("license products = %+v, want only lite", lic.Products)
	}

	rr = env.doAdmin(t, "POST", "/api/v1/admin/licenses", jsonBody(t, map[string]interface{}{
		"products": map[string]int64{"missing": 60},
	}))
	assertStatus(t, rr, http.StatusNotFound)

	assertStatus(t, env.doAdmin(t, "DELETE", "/api/v1/admin/licenses/"+key, nil), http.StatusOK)
	assertStatus(t, env.doAdmin(t, "GET", "/api/v1/admin/licenses/"+key, nil), http.StatusNotFound)
}

func TestAdminDeleteOwnedLicense(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, _ := env.seedUser(t, "owner@example.com", model.RoleUser)
	u, err := env.app.Accounts.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}

	rr := env.doAdmin(t, "DELETE", "/api/v1/admin/licenses/"+u.LicenseKey, nil)
	assertStatus(t, rr, http.StatusConflict)
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if !strings.Contains(resp.Error.Message, "owned by a user") {
		t.Errorf("message = %q, want owned by a user", resp.Error.Message)
	}
	assertStatus(t, env.doAdmin(t, "GET", "/api/v1/admin/licenses/"+u.LicenseKey, nil), http.StatusOK)
}

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.doAdmin(t, "POST", "/api/v1/admin/products", strings.NewReader(`{"id": "p", "bogus": 1}`))
	assertStatus(t, rr, http.StatusBadRequest)
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error.Code != http.StatusBadRequest || resp.Error.Message == "" {
		t.Errorf("error envelope = %+v", resp)
	}
}

// ---------------------------------------------------------------------------
// MCP
// ---------------------------------------------------------------------------

func mcpInitialize(t *testing.T) *bytes.Buffer {
	return jsonBody(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]interface{}{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]interface{}{
				"name":    "test",
				"version": "1.0",
			},
		},
	})
}

func TestMCPEndpoint_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, nil)
	assertStatus(t, env.do(t, "POST", "/mcp", mcpInitialize(t), nil), http.StatusUnauthorized)
}

func TestMCPEndpoint_UserForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.seedUser(t, "user@example.com", model.RoleUser)
	assertStatus(t, env.doAuth(t, "POST", "/mcp", mcpInitialize(t), token), http.StatusForbidden)
}

func TestMCPEndpoint_WithAPIKey(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.doAdmin(t, "POST", "/mcp", mcpInitialize(t))
	if rr.Code == http.StatusUnauthorized || rr.Code == http.StatusForbidden {
		t.Fatalf("MCP endpoint returned %d with valid API key, expected 200", rr.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err == nil {
		if result, ok := resp["result"].(map[string]interface{}); ok {
			if serverInfo, ok := result["serverInfo"].(map[string]interface{}); ok {
				if serverInfo["name"] != "keygate" {
					t.Errorf("serverInfo.name = %v, want keygate", serverInfo["name"])
				}
			}
		}
	}
}
