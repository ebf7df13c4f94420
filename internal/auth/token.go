package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clipsync/clipsync/internal/domain"
)

// Identity is a verified caller.
type Identity struct {
	Owner    string
	Username string
	MaxItems int
}

var (
	ErrMissingToken = errors.New("missing token")
	ErrUnknownUser  = errors.New("unknown or inactive user")
)

// Users resolves the subject of a token.
type Users interface {
	Lookup(username string) (User, bool)
}

// Verifier checks HS256 tokens whose sub claim names a user.
type Verifier struct {
	secret []byte
	users  Users
	parser *jwt.Parser
}

// NewVerifier builds a verifier for secret.
func NewVerifier(secret string, users Users) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		users:  users,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Verify resolves raw to an Identity. Every failure is an UNAUTHORIZED
// domain error wrapping the cause.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, unauthorized(ErrMissingToken)
	}

	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, v.key); err != nil {
		return Identity{}, unauthorized(err)
	}

	u, ok := v.users.Lookup(claims.Subject)
	if !ok || !u.IsActive() {
		return Identity{}, unauthorized(ErrUnknownUser)
	}

	return Identity{Owner: u.ID, Username: u.Username, MaxItems: u.MaxHistoryItems}, nil
}

func (v *Verifier) key(*jwt.Token) (any, error) {
	return v.secret, nil
}

func unauthorized(err error) error {
	return &domain.Error{Code: domain.CodeUnauthorized, Message: "could not validate credentials", Err: err}
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
