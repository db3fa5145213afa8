/*
auth.go - Bearer token verification and actor resolution

PURPOSE:
  Turns an Authorization header into the billing.Actor a request acts as.
  Login flows live outside this service; it only verifies HS256 tokens
  signed with the shared secret.

MIDDLEWARE:
  Authenticate:  verifies the token, stores the Identity in the context
  RequireActor:  resolves the identity's household membership and stores
                 the Actor; requests without a household get 403

CLAIMS:
  {user_id, group_id, email, name} plus registered claims (sub, exp, iat,
  iss). group_id is advisory: when present it must match the membership.

SEE ALSO:
  - household/household.go: ActorFor
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/card-engine/billing"
	"github.com/warp/card-engine/household"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the application claims carried by access tokens.
type Claims struct {
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies access tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for the identity, optionally bound to a group.
func (t *TokenIssuer) Issue(id household.Identity, groupID billing.GroupID) (string, error) {
	now := t.now()
	claims := Claims{
		UserID:  string(id.UserID),
		GroupID: string(groupID),
		Email:   id.Email,
		Name:    id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.UserID),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses and validates a token.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// =============================================================================
// REQUEST CONTEXT
// =============================================================================

type contextKey int

const (
	identityKey contextKey = iota
	claimsKey
	actorKey
)

// IdentityFrom returns the verified identity of the request.
func IdentityFrom(ctx context.Context) (household.Identity, bool) {
	id, ok := ctx.Value(identityKey).(household.Identity)
	return id, ok
}

// ActorFrom returns the resolved actor of the request.
func ActorFrom(ctx context.Context) (billing.Actor, bool) {
	a, ok := ctx.Value(actorKey).(billing.Actor)
	return a, ok
}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a billing.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// Authenticator holds what the auth middleware needs.
type Authenticator struct {
	Tokens     *TokenIssuer
	Households *household.Service
}

func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required", ErrMissingToken)
			return
		}
		claims, err := a.Tokens.Verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Authentication failed", err)
			return
		}

		id := household.Identity{
			UserID:      billing.UserID(claims.UserID),
			Email:       claims.Email,
			DisplayName: claims.Name,
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		ctx = context.WithValue(ctx, claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required", ErrMissingToken)
			return
		}
		actor, err := a.Households.ActorFor(r.Context(), id.UserID)
		if err != nil {
			if billing.IsNotFound(err) {
				writeError(w, http.StatusForbidden, "No household for this user; create one first", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to resolve household", err)
			return
		}
		if claims, ok := r.Context().Value(claimsKey).(*Claims); ok && claims.GroupID != "" &&
			billing.GroupID(claims.GroupID) != actor.GroupID {
			writeError(w, http.StatusForbidden, "Token is bound to another household", nil)
			return
		}
		if actor.DisplayName == "" {
			actor.DisplayName = id.DisplayName
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	// EventSource cannot set headers, so streams may pass the token in the query.
	if strings.HasSuffix(r.URL.Path, "/stream") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
