// Package auth resolves the Herbit account a Telegram user links to.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrEmptyCredential = errors.New("empty credential")
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrTokenExpired    = errors.New("access token expired")
	ErrNoSubject       = errors.New("access token carries no user id")
)

// Account is what /link resolves: the Herbit user id and, when a token was given,
// the bearer token forwarded to the ecoenzim API.
type Account struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}

// userIDClaims lists the claims the Herbit backend has used for the user id.
var userIDClaims = []string{"id", "_id", "userId", "sub"}

// Resolve accepts either a raw user id (24 hex characters) or the access_token
// cookie of the web app. Tokens are decoded without verification: the API checks
// the signature on every request.
func Resolve(credential string, now time.Time) (Account, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Account{}, ErrEmptyCredential
	}
	if strings.Count(credential, ".") == 2 {
		return parseToken(credential, now)
	}
	id, err := normalizeUserID(credential)
	if err != nil {
		return Account{}, err
	}
	return Account{UserID: id}, nil
}

func parseToken(raw string, now time.Time) (Account, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Account{}, fmt.Errorf("parse access token: %w", err)
	}

	acc := Account{AccessToken: raw}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		acc.ExpiresAt = exp.Time
		if !exp.Time.After(now) {
			return Account{}, ErrTokenExpired
		}
	}

	for _, key := range userIDClaims {
		if v, ok := claims[key].(string); ok && v != "" {
			id, err := normalizeUserID(v)
			if err != nil {
				return Account{}, err
			}
			acc.UserID = id
			return acc, nil
		}
	}
	return Account{}, ErrNoSubject
}

func normalizeUserID(raw string) (string, error) {
	oid, err := primitive.ObjectIDFromHex(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, raw)
	}
	return oid.Hex(), nil
}
