package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleHost marks tokens allowed to drive session lifecycles.
const RoleHost = "host"

var (
	ErrMissingToken = errors.New("missing authorization")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	ParticipantID string
	DisplayName   string
	Host          bool
}

// Claims carries the stable participant id in sub plus display name and role.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 identity tokens. Without a secret it runs in dev mode and
// trusts the participantId, name and role query parameters (or X-Participant-Id, X-Display-Name, X-Role headers).
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken signs a token for id; used by tooling and tests.
func (a *Authenticator) IssueToken(participantID, name, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Identify resolves the caller from a bearer token or the token query parameter (websockets).
func (a *Authenticator) Identify(r *http.Request) (Identity, error) {
	if len(a.secret) == 0 {
		return devIdentity(r), nil
	}

	raw := bearerToken(r)
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		ParticipantID: claims.Subject,
		DisplayName:   claims.Name,
		Host:          claims.Role == RoleHost,
	}, nil
}

func devIdentity(r *http.Request) Identity {
	q := r.URL.Query()
	pick := func(header, param string) string {
		if v := r.Header.Get(header); v != "" {
			return v
		}
		return q.Get(param)
	}
	return Identity{
		ParticipantID: pick("X-Participant-Id", "participantId"),
		DisplayName:   pick("X-Display-Name", "name"),
		Host:          pick("X-Role", "role") == RoleHost,
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

type identityKey struct{}

// RequireIdentity rejects requests without a verifiable identity.
func (a *Authenticator) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Identify(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorPayload{Error: err.Error(), Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// RequireHost admits only host identities. It must run after RequireIdentity.
func RequireHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFrom(r.Context()).Host {
			writeJSON(w, http.StatusForbidden, errorPayload{Error: "host role required", Code: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFrom returns the identity stored by RequireIdentity.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
