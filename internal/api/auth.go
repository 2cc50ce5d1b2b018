package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/codecollab-dev/syncengine/internal/types"
)

// Identity issuance belongs to the external auth provider; the engine
// only verifies tokens and threads the identity through request
// contexts. CreateToken exists for dev mode and tests.

const (
	userIdClaim      = "user-id"
	displayNameClaim = "display-name"
	emailClaim       = "email"
	photoURLClaim    = "photo-url"
	expClaim         = "exp"

	tokenCookieKey = "token"
)

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, identity types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (types.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(types.Identity)
	return identity, ok
}

// extractIdentity pulls the bearer token from the Authorization header,
// falling back to the token cookie, and verifies it.
func (s *SyncApp) extractIdentity(r *http.Request) (types.Identity, error) {
	tokenString := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokenString = strings.TrimPrefix(auth, "Bearer ")
	} else if cookie, err := r.Cookie(tokenCookieKey); err == nil {
		tokenString = cookie.Value
	}

	if tokenString == "" {
		return types.Identity{}, fmt.Errorf("no token")
	}

	return s.identityFromToken(tokenString)
}

func (s *SyncApp) identityFromToken(tokenString string) (types.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.Identity{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Identity{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return types.Identity{}, fmt.Errorf("invalid user id claim")
	}

	identity := types.Identity{UserId: userId}
	if v, ok := claims[displayNameClaim].(string); ok {
		identity.DisplayName = v
	}
	if v, ok := claims[emailClaim].(string); ok {
		identity.Email = v
	}
	if v, ok := claims[photoURLClaim].(string); ok {
		identity.PhotoURL = v
	}

	return identity, nil
}

// CreateToken signs a token carrying the identity claims.
func CreateToken(signingKey []byte, identity types.Identity, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:      identity.UserId,
		displayNameClaim: identity.DisplayName,
		emailClaim:       identity.Email,
		photoURLClaim:    identity.PhotoURL,
		expClaim:         time.Now().Add(exp).Unix(),
	})

	return token.SignedString(signingKey)
}
