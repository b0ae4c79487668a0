package models

import (
	"time"

	"github.com/golang-jwt/jwt"
)

// TokenExpiry reads the exp claim of the session token without verifying the
// signature. It is informational only; the session is trusted until the
// backend rejects it.
func (u *User) TokenExpiry() (time.Time, bool) {
	if u == nil || u.Token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(u.Token, claims); err != nil {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}
