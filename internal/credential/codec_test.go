package credential

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keygate/keygate/internal/model"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueAndDecode(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := NewCodec(testSecret, 0).WithClock(fixedClock(now))

	token, issued, err := codec.Issue("user-1", "a@example.com", model.RoleSupport)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.IssuedAt != now.Unix() {
		t.Errorf("IssuedAt = %d, want %d", issued.IssuedAt, now.Unix())
	}
	if issued.ExpiresAt != now.Add(24*time.Hour).Unix() {
		t.Errorf("ExpiresAt = %d, want %d", issued.ExpiresAt, now.Add(24*time.Hour).Unix())
	}

	got, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Subject != "user-1" {
		t.Errorf("Subject = %q, want %q", got.Subject, "user-1")
	}
	if got.Role != model.RoleSupport {
		t.Errorf("Role = %q, want %q", got.Role, model.RoleSupport)
	}
	if got.Email != "a@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "a@example.com")
	}
	if got.ID == "" || got.ID != issued.ID {
		t.Errorf("ID = %q, want %q", got.ID, issued.ID)
	}
}

func TestTokensIssuedInSameSecondDiffer(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := NewCodec(testSecret, 0).WithClock(fixedClock(now))

	a, _, err := codec.Issue("user-1", "", model.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := codec.Issue("user-1", "", model.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("expected distinct tokens")
	}
}

func TestDecodeExpired(t *testing.T) {
	issuedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := NewCodec(testSecret, time.Hour).WithClock(fixedClock(issuedAt))
	token, _, err := codec.Issue("user-1", "", model.RoleUser)
	if err != nil {
		t.Fatal(err)
	}

	later := codec.WithClock(fixedClock(issuedAt.Add(2 * time.Hour)))
	if _, err := later.Decode(token); !errors.Is(err, ErrExpired) {
		t.Errorf("Decode error = %v, want ErrExpired", err)
	}
}

func TestDecodeRejectsForeignSignature(t *testing.T) {
	codec := NewCodec(testSecret, 0)
	other := NewCodec([]byte("another-secret-another-secret-xx"), 0)

	token, _, err := other.Issue("user-1", "", model.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Decode(token); !errors.Is(err, ErrInvalid) {
		t.Errorf("Decode error = %v, want ErrInvalid", err)
	}
}

func TestDecodeRejectsGarbageAndUnknownRole(t *testing.T) {
	codec := NewCodec(testSecret, 0)
	if _, err := codec.Decode("not-a-token"); !errors.Is(err, ErrInvalid) {
		t.Errorf("garbage: error = %v, want ErrInvalid", err)
	}

	now := time.Now()
	claims := tokenClaims{
		Role: model.Role("root"),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Decode(token); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown role: error = %v, want ErrInvalid", err)
	}
}

func TestDecodeRejectsNoneAlgorithm(t *testing.T) {
	codec := NewCodec(testSecret, 0)
	now := time.Now()
	claims := tokenClaims{
		Role: model.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Decode(token); !errors.Is(err, ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalid", err)
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	codec := NewCodec(testSecret, 0)
	if _, _, err := codec.Issue("", "", model.RoleUser); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, _, err := codec.Issue("u", "", model.Role("root")); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc", "abc"},
		{"abc.def.ghi", "abc.def.ghi"},
		{"  Bearer   xyz  ", "xyz"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractToken(tt.in); got != tt.want {
			t.Errorf("ExtractToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClaimsTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := &Claims{ExpiresAt: 1060}
	if got := c.TTL(now); got != 60*time.Second {
		t.Errorf("TTL = %v, want 60s", got)
	}
	if got := c.TTL(time.Unix(2000, 0)); got != 0 {
		t.Errorf("TTL after expiry = %v, want 0", got)
	}
}
