// Package auth implements password registration, login and bearer session
// tokens for medipay users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"medipay/internal/core"
)

var (
	// ErrInvalidCredentials is returned when an email and password do not match.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned for a malformed, expired or forged session token.
	ErrInvalidToken = errors.New("invalid session token")
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// MaxPasswordLength is bcrypt's input limit in bytes.
const MaxPasswordLength = 72

// DefaultIssuer is used when no issuer is configured.
const DefaultIssuer = "medipay"

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims identifies the user a session token was issued to.
type Claims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer builds an issuer. The secret must be non-empty.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for issuing and verifying tokens.
func (t *TokenIssuer) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		t.now = fn
	}
}

// Issue signs a token for user.
func (t *TokenIssuer) Issue(user core.User) (string, time.Time, error) {
	now := t.now().UTC()
	expires := now.Add(t.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email: user.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses token and returns its claims. Every failure is reported as ErrInvalidToken.
func (t *TokenIssuer) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Claims{
		UserID:    parsed.Subject,
		Email:     parsed.Email,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

// Session is returned by a successful registration or login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      core.User `json:"user"`
}

// UserStore is the slice of the core service the authenticator needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, fullName, passwordHash string) (core.User, error)
	FindUserByEmail(ctx context.Context, email string) (core.User, bool, error)
	GetUser(ctx context.Context, id string) (core.User, error)
}

// Authenticator registers and logs in users.
type Authenticator struct {
	users  UserStore
	tokens *TokenIssuer
}

// NewAuthenticator wires an authenticator.
func NewAuthenticator(users UserStore, tokens *TokenIssuer) *Authenticator {
	return &Authenticator{users: users, tokens: tokens}
}

// Register creates a user and opens a session for it.
func (a *Authenticator) Register(ctx context.Context, email, fullName, password string) (Session, error) {
	if len(password) < MinPasswordLength {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", core.ErrValidation, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return Session{}, fmt.Errorf("%w: password must be at most %d bytes", core.ErrValidation, MaxPasswordLength)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	user, err := a.users.CreateUser(ctx, email, fullName, hash)
	if err != nil {
		return Session{}, err
	}
	return a.open(user)
}

// Login checks credentials and opens a session.
func (a *Authenticator) Login(ctx context.Context, email, password string) (Session, error) {
	user, found, err := a.users.FindUserByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if !found || !CheckPassword(user.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return a.open(user)
}

// Authenticate resolves a bearer token to the user it was issued to.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (core.User, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return core.User{}, err
	}
	user, err := a.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.User{}, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
		}
		return core.User{}, err
	}
	return user, nil
}

func (a *Authenticator) open(user core.User) (Session, error) {
	token, expires, err := a.tokens.Issue(user)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, User: user}, nil
}
