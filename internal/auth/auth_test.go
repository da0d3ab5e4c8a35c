package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"medipay/internal/core"
)

func newIssuer(t *testing.T, now time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer("test-secret", "", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	issuer.SetNowFunc(func() time.Time { return now })
	return issuer
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" || !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", hash)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("password should match")
	}
	if CheckPassword(hash, "wrong horse") {
		t.Fatalf("wrong password should not match")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newIssuer(t, now)
	token, expires, err := issuer.Issue(core.User{Base: core.Base{ID: "u1"}, Email: "a@example.com"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expires.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expires)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "a@example.com" || !claims.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newIssuer(t, now)
	token, _, err := issuer.Issue(core.User{Base: core.Base{ID: "u1"}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	later := newIssuer(t, now.Add(2*time.Hour))
	if _, err := later.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token should fail, got %v", err)
	}

	other, err := NewTokenIssuer("other-secret", "", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	other.SetNowFunc(func() time.Time { return now })
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged token should fail, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    DefaultIssuer,
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := issuer.Verify(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none should fail, got %v", err)
	}
	if _, err := issuer.Verify("  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token should fail, got %v", err)
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(" ", "", time.Hour); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewTokenIssuer("s", "", 0); err == nil {
		t.Fatalf("expected ttl error")
	}
}

func TestAuthenticatorRegisterLogin(t *testing.T) {
	ctx := context.Background()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine())
	a := NewAuthenticator(svc, newIssuer(t, time.Now()))

	if _, err := a.Register(ctx, "pat@example.com", "Pat", "short"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("short password should fail validation, got %v", err)
	}
	if _, err := a.Register(ctx, "pat@example.com", "Pat", strings.Repeat("x", MaxPasswordLength+1)); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("73 byte password should fail validation, got %v", err)
	}
	if _, err := a.Register(ctx, "edge@example.com", "Edge", strings.Repeat("é", MaxPasswordLength/2)); err != nil {
		t.Fatalf("72 byte password should register: %v", err)
	}

	session, err := a.Register(ctx, "Pat@Example.com", "Pat", "long enough")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if session.Token == "" || session.User.Email != "pat@example.com" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.User.PasswordHash == "long enough" {
		t.Fatalf("password must be stored hashed")
	}
	if _, err := a.Register(ctx, "pat@example.com", "Pat", "long enough"); !errors.Is(err, core.ErrEmailTaken) {
		t.Fatalf("duplicate register should fail, got %v", err)
	}

	if _, err := a.Login(ctx, "pat@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password should fail, got %v", err)
	}
	if _, err := a.Login(ctx, "nobody@example.com", "long enough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email should fail, got %v", err)
	}
	login, err := a.Login(ctx, "PAT@example.com", "long enough")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	user, err := a.Authenticate(ctx, login.Token)
	if err != nil || user.ID != session.User.ID {
		t.Fatalf("authenticate: %+v %v", user, err)
	}
}

func TestAuthenticateUnknownSubject(t *testing.T) {
	issuer := newIssuer(t, time.Now())
	token, _, err := issuer.Issue(core.User{Base: core.Base{ID: "deleted"}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	a := NewAuthenticator(core.NewInMemoryService(core.NewDefaultRulesEngine()), issuer)
	if _, err := a.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}
