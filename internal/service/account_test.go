package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
)

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	ctx := context.Background()

	u := env.mustUser(t, "Bob@Example.com", "")
	if u.Email != "bob@example.com" {
		t.Errorf("Email = %q, want lowercased", u.Email)
	}
	if u.Role != model.RoleUser {
		t.Errorf("Role = %q, want user", u.Role)
	}
	l, err := env.catalog.GetLicense(ctx, u.LicenseKey)
	if err != nil {
		t.Fatalf("user license missing: %v", err)
	}
	if len(l.Products) != 0 || l.Bound() {
		t.Errorf("new license = %+v, want empty and unbound", l)
	}

	if _, err := env.accounts.CreateUser(ctx, "bob@example.com", "another-pass", model.RoleUser); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate error = %v, want ErrEmailTaken", err)
	}
	for _, email := range []string{"not-an-email", "", "  ", "Bob <bob@example.com>"} {
		if _, err := env.accounts.CreateUser(ctx, email, "long-enough", model.RoleUser); !errors.Is(err, ErrValidation) {
			t.Errorf("email %q error = %v, want ErrValidation", email, err)
		}
	}
	if _, err := env.accounts.CreateUser(ctx, "c@example.com", "short", model.RoleUser); !errors.Is(err, ErrValidation) {
		t.Errorf("short password error = %v, want ErrValidation", err)
	}
}

func TestSetRoleRevokesPriorCredentials(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	ctx := context.Background()
	admin := env.mustUser(t, "admin@example.com", model.RoleAdmin)
	user := env.mustUser(t, "user@example.com", model.RoleUser)

	_, adminClaims, _ := env.auth.Login(ctx, "admin@example.com", "correct-horse")
	oldToken, _, _ := env.auth.Login(ctx, "user@example.com", "correct-horse")

	env.clock.Advance(time.Minute)
	if err := env.accounts.SetRole(ctx, adminClaims, user.ID, model.RoleSupport); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	got, _ := env.accounts.GetUser(ctx, user.ID)
	if got.Role != model.RoleSupport {
		t.Errorf("Role = %q, want support", got.Role)
	}
	if _, err := env.auth.Validate(ctx, oldToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("old token error = %v, want ErrTokenRevoked", err)
	}
	fresh, claims, err := env.auth.Login(ctx, "user@example.com", "correct-horse")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Role != model.RoleSupport {
		t.Errorf("fresh token role = %q, want support", claims.Role)
	}
	if _, err := env.auth.Validate(ctx, fresh); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}
	_ = admin
}

func TestSetRoleGuards(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	ctx := context.Background()
	admin := env.mustUser(t, "admin@example.com", model.RoleAdmin)
	support := env.mustUser(t, "support@example.com", model.RoleSupport)

	_, adminClaims, _ := env.auth.Login(ctx, "admin@example.com", "correct-horse")
	_, supportClaims, _ := env.auth.Login(ctx, "support@example.com", "correct-horse")

	if err := env.accounts.SetRole(ctx, adminClaims, admin.ID, model.RoleUser); !errors.Is(err, ErrSelfDemotion) {
		t.Errorf("self demotion error = %v, want ErrSelfDemotion", err)
	}
	if err := env.accounts.SetRole(ctx, supportClaims, admin.ID, model.RoleUser); !errors.Is(err, ErrInsufficientRole) {
		t.Errorf("support actor error = %v, want ErrInsufficientRole", err)
	}
	if err := env.accounts.SetRole(ctx, adminClaims, "missing", model.RoleUser); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("missing user error = %v, want ErrUserNotFound", err)
	}
	if err := env.accounts.SetRole(ctx, adminClaims, support.ID, model.Role("root")); !errors.Is(err, ErrValidation) {
		t.Errorf("invalid role error = %v, want ErrValidation", err)
	}
	if err := env.accounts.SetRole(ctx, nil, support.ID, model.RoleDev); err != nil {
		t.Errorf("operator SetRole: %v", err)
	}
}

func TestSetRoleSurfacesRevocationOutage(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	ctx := context.Background()
	user := env.mustUser(t, "user@example.com", model.RoleUser)
	env.redis.Close()

	if err := env.accounts.SetRole(ctx, nil, user.ID, model.RoleSupport); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestBanUserAndHWID(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	ctx := context.Background()
	user := env.mustUser(t, "user@example.com", model.RoleUser)
	token, _, _ := env.auth.Login(ctx, "user@example.com", "correct-horse")

	env.clock.Advance(time.Second)
	if err := env.accounts.SetBanned(ctx, user.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := env.auth.Validate(ctx, token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("banned user's token error = %v, want ErrTokenRevoked", err)
	}
	if err := env.accounts.SetBanned(ctx, "missing", true); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}

	if err := env.accounts.BanHWID(ctx, "hw-bad", "chargeback"); err != nil {
		t.Fatal(err)
	}
	bans, _ := env.accounts.ListBannedHWIDs(ctx)
	if len(bans) != 1 || bans[0].Reason != "chargeback" {
		t.Errorf("bans = %+v", bans)
	}
	if err := env.accounts.UnbanHWID(ctx, "hw-bad"); err != nil {
		t.Fatal(err)
	}
	if err := env.accounts.UnbanHWID(ctx, "hw-bad"); !errors.Is(err, ErrHWIDNotBanned) {
		t.Errorf("error = %v, want ErrHWIDNotBanned", err)
	}
	if err := env.accounts.BanHWID(ctx, " ", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestRevokeCredentials(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	ctx := context.Background()
	env.mustUser(t, "user@example.com", model.RoleUser)
	token, claims, _ := env.auth.Login(ctx, "user@example.com", "correct-horse")

	env.clock.Advance(time.Second)
	if err := env.accounts.RevokeCredentials(ctx, claims.Subject); err != nil {
		t.Fatal(err)
	}
	if _, err := env.auth.Validate(ctx, token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("error = %v, want ErrTokenRevoked", err)
	}
	if err := env.accounts.RevokeCredentials(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
}
