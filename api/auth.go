package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/id"
)

// DefaultIssuer is the issuer stamped on and required of bearer tokens.
const DefaultIssuer = "creditline"

// Claims is the bearer token payload. Subject carries the account id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and checks HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithIssuer overrides DefaultIssuer.
func WithIssuer(iss string) AuthOption {
	return func(a *Authenticator) { a.issuer = iss }
}

// NewAuthenticator creates an Authenticator signing with secret.
func NewAuthenticator(secret string, opts ...AuthOption) *Authenticator {
	a := &Authenticator{secret: []byte(secret), issuer: DefaultIssuer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssueToken signs a token for the account, valid for ttl.
func (a *Authenticator) IssueToken(accountID id.AccountID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses a token and returns its claims.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", creditline.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", creditline.ErrUnauthorized)
	}
	return claims, nil
}

type principalKey struct{}

// Principal returns the authenticated account stored by RequireAuth.
func Principal(ctx context.Context) (*account.Account, bool) {
	a, ok := ctx.Value(principalKey{}).(*account.Account)
	return a, ok
}

// requireAuth checks the bearer token and opens the subject's account on
// first use.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			s.error(w, r, fmt.Errorf("%w: missing bearer token", creditline.ErrUnauthorized))
			return
		}

		claims, err := s.auth.Validate(raw)
		if err != nil {
			s.error(w, r, err)
			return
		}
		accountID, err := id.ParseAccountID(claims.Subject)
		if err != nil {
			s.error(w, r, fmt.Errorf("%w: subject: %w", creditline.ErrUnauthorized, err))
			return
		}

		a, err := s.ledger.OpenAccount(r.Context(), accountID, claims.Name)
		if err != nil {
			if errors.Is(err, creditline.ErrInvalidInput) {
				err = fmt.Errorf("%w: %w", creditline.ErrUnauthorized, err)
			}
			s.error(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, a)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
