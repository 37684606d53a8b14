// Package identity decides whether a connection may claim a username.
//
// The relay historically trusts every claim. Token and store verification are
// opt-in and only run when configured.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/colabhub/relay/internal/config"
	"github.com/colabhub/relay/internal/models"
)

var (
	ErrMissingToken  = errors.New("no token presented")
	ErrTokenMismatch = errors.New("token does not belong to the claimed username")
	ErrUnknownUser   = errors.New("username does not belong to an account")
)

// Credentials are what a connection presented when it was accepted
type Credentials struct {
	Token      string
	RemoteAddr string
}

// Verifier checks a claimed username. A nil error allows the claim.
type Verifier interface {
	Verify(ctx context.Context, claimed string, creds Credentials) error
}

// Trusting accepts every claim
type Trusting struct{}

func (Trusting) Verify(context.Context, string, Credentials) error {
	return nil
}

// TokenVerifier requires an HMAC-signed JWT whose "username" claim matches
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a TokenVerifier for secret
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

func (v *TokenVerifier) Verify(_ context.Context, claimed string, creds Credentials) error {
	if creds.Token == "" {
		return ErrMissingToken
	}

	token, err := jwt.Parse(creds.Token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return errors.New("invalid token claims")
	}

	username, _ := claims["username"].(string)
	if username == "" || username != claimed {
		return ErrTokenMismatch
	}
	return nil
}

// StoreVerifier requires the username to exist in the users table
type StoreVerifier struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewStoreVerifier creates a StoreVerifier backed by db
func NewStoreVerifier(db *gorm.DB) *StoreVerifier {
	return &StoreVerifier{db: db, timeout: 3 * time.Second}
}

func (v *StoreVerifier) Verify(ctx context.Context, claimed string, _ Credentials) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var count int64
	err := v.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", claimed).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("lookup user %q: %w", claimed, err)
	}
	if count == 0 {
		return ErrUnknownUser
	}
	return nil
}

// New builds the verifier selected by cfg. db is only used in store mode.
func New(cfg *config.Config, db *gorm.DB) (Verifier, error) {
	switch cfg.IdentityMode {
	case "", config.IdentityTrust:
		return Trusting{}, nil
	case config.IdentityToken:
		return NewTokenVerifier([]byte(cfg.JWTSecret)), nil
	case config.IdentityStore:
		if db == nil {
			return nil, errors.New("store identity mode needs a database")
		}
		return NewStoreVerifier(db), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.IdentityMode)
	}
}

// TokenFromRequest extracts a bearer token from the ?token= query parameter or
// the Authorization header. The header wins when both are present.
func TokenFromRequest(r *http.Request) string {
	token := r.URL.Query().Get("token")

	if auth := r.Header.Get("Authorization"); auth != "" {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	return token
}
