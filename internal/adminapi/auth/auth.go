// Package auth gates the admin API: a bearer JWT identifies the caller for
// every route, and a TOTP code is additionally required on routes that can
// move money or change trading state (pause/resume).
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/logging"
)

var log = logging.For("adminapi_auth")

// ErrInvalidToken covers every way a presented bearer token can fail to
// validate: missing, malformed, wrong signature, or expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Claims is the JWT payload issued to an operator session.
type Claims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
}

// IssueToken signs a session token for operator, valid for ttl, using secret
// as the HMAC key (config.AppSettings.JWTSecret).
func IssueToken(secret, operator string, ttl time.Duration, c clock.Clock) (string, error) {
	now := time.UnixMilli(c.NowMs())
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Operator: operator,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates tokenString against secret and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyTOTP checks code against the running TOTP secret.
func VerifyTOTP(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		log.WithError(err).Warn("totp validation error")
		return false
	}
	return ok
}

// HashSecret bcrypt-hashes an admin secret for storage as
// config.AppSettings.AdminSecretHash, so the configured credential never sits
// in the environment as plaintext.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches hash, as produced by
// HashSecret.
func VerifySecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// RequireBearer is gin middleware that validates an "Authorization: Bearer
// <token>" header against secret and stores the operator subject on the
// context under "operator", mirroring the teacher's c.GetString("user_id")
// pattern for downstream handlers.
func RequireBearer(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := ParseToken(secret, strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("operator", claims.Operator)
		c.Next()
	}
}

// RequireTOTP is gin middleware layered behind RequireBearer on sensitive
// routes: it requires an "X-TOTP-Code" header matching the current code for
// secret.
func RequireTOTP(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.GetHeader("X-TOTP-Code")
		if !VerifyTOTP(secret, code) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid or missing totp code"})
			return
		}
		c.Next()
	}
}
