package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GetStream/stream-social-feed/feed"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of the access tokens issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Actor returns the identity carried by the claims.
func (c Claims) Actor() feed.Actor {
	return feed.Actor{
		ID:          c.ID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Avatar:      c.Avatar,
	}
}

// SignToken signs an HS256 access token for actor valid for ttl. The binary
// never issues tokens; it is used by tests and local tooling.
func SignToken(secret []byte, actor feed.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ID:          actor.ID,
		Username:    actor.Username,
		DisplayName: actor.DisplayName,
		Avatar:      actor.Avatar,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

var errUnauthorized = errors.New("unauthorized")

func (a *API) parseToken(r *http.Request) (feed.Actor, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return feed.Actor{}, fmt.Errorf("%w: missing authorization header", errUnauthorized)
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return feed.Actor{}, fmt.Errorf("%w: not a bearer token", errUnauthorized)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(_ *jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return feed.Actor{}, fmt.Errorf("%w: %w", errUnauthorized, err)
	}
	if claims.ID == "" || claims.Username == "" {
		return feed.Actor{}, fmt.Errorf("%w: token carries no identity", errUnauthorized)
	}
	if claims.DisplayName == "" {
		claims.DisplayName = claims.Username
	}
	return claims.Actor(), nil
}

// authenticated wraps h so that it only runs for callers presenting a valid
// token and staying within their rate limit. The caller is registered before
// h runs.
func (a *API) authenticated(h func(http.ResponseWriter, *http.Request, feed.Actor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.parseToken(r)
		if err != nil {
			a.respondError(w, http.StatusUnauthorized, err, "unauthorized", "Invalid or missing access token")
			return
		}
		if a.Limiter != nil && !a.Limiter.Allow(actor.ID) {
			a.respondError(w, http.StatusTooManyRequests, fmt.Errorf("caller %s exceeded its rate limit", actor.ID), "rate_limited", "Too many requests, slow down")
			return
		}
		if _, err := a.Service.Register(r.Context(), actor); err != nil {
			a.respondServiceError(w, err, "Could not register user")
			return
		}
		h(w, r, actor)
	}
}
