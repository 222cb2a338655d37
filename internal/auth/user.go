package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the identity carried in the access token claims.
type User struct {
	ID        int64     `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserFromToken decodes the identity claims of an access token. The signature
// is not verified; the backend does that on every request.
func UserFromToken(token string) (User, error) {
	if token == "" {
		return User{}, fmt.Errorf("empty token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return User{}, fmt.Errorf("parse access token: %w", err)
	}

	var u User
	switch id := claims["user_id"].(type) {
	case float64:
		u.ID = int64(id)
	case string:
		u.ID, _ = strconv.ParseInt(id, 10, 64)
	}
	u.Username, _ = claims["username"].(string)
	u.Email, _ = claims["email"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		u.ExpiresAt = exp.Time
	}
	return u, nil
}

// Expired reports whether the token expiry has passed at now. A user with no
// known expiry never expires locally.
func (u User) Expired(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && now.After(u.ExpiresAt)
}
