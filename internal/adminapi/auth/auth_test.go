package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfall-systems/perpcore/internal/clock"
)

func init() { gin.SetMode(gin.TestMode) }

func TestIssueAndParseToken_RoundTrips(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	token, err := IssueToken("supersecret", "alice", time.Hour, c)
	require.NoError(t, err)

	claims, err := ParseToken("supersecret", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
}

func TestHashSecret_VerifySecret_RoundTrips(t *testing.T) {
	hash, err := HashSecret("correct-horse-battery-staple")
	require.NoError(t, err)
	assert.True(t, VerifySecret(hash, "correct-horse-battery-staple"))
}

func TestVerifySecret_RejectsWrongSecret(t *testing.T) {
	hash, err := HashSecret("correct-horse-battery-staple")
	require.NoError(t, err)
	assert.False(t, VerifySecret(hash, "wrong"))
}

func TestVerifySecret_RejectsEmptyInputs(t *testing.T) {
	hash, err := HashSecret("correct-horse-battery-staple")
	require.NoError(t, err)
	assert.False(t, VerifySecret(hash, ""))
	assert.False(t, VerifySecret("", "correct-horse-battery-staple"))
}

func TestParseToken_RejectsWrongSecret(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	token, err := IssueToken("right-secret", "alice", time.Hour, c)
	require.NoError(t, err)

	_, err = ParseToken("wrong-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsExpiredToken(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	token, err := IssueToken("secret", "alice", -time.Minute, c)
	require.NoError(t, err)

	_, err = ParseToken("secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsGarbage(t *testing.T) {
	_, err := ParseToken("secret", "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTOTP_AcceptsCurrentCode(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, VerifyTOTP(secret, code))
}

func TestVerifyTOTP_RejectsWrongCode(t *testing.T) {
	assert.False(t, VerifyTOTP("JBSWY3DPEHPK3PXP", "000000"))
}

func TestVerifyTOTP_RejectsEmptyInputs(t *testing.T) {
	assert.False(t, VerifyTOTP("", "123456"))
	assert.False(t, VerifyTOTP("JBSWY3DPEHPK3PXP", ""))
}

func newRouter(secret string, totpSecret string, handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	group := r.Group("/")
	group.Use(RequireBearer(secret))
	if totpSecret != "" {
		group.Use(RequireTOTP(totpSecret))
	}
	group.GET("/protected", handler)
	return r
}

func TestRequireBearer_RejectsMissingHeader(t *testing.T) {
	r := newRouter("secret", "", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireBearer_AcceptsValidTokenAndSetsOperator(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	token, err := IssueToken("secret", "alice", time.Hour, c)
	require.NoError(t, err)

	var seenOperator string
	r := newRouter("secret", "", func(gc *gin.Context) {
		seenOperator = gc.GetString("operator")
		gc.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", seenOperator)
}

func TestRequireTOTP_RejectsMissingCode(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	token, err := IssueToken("secret", "alice", time.Hour, c)
	require.NoError(t, err)

	r := newRouter("secret", "JBSWY3DPEHPK3PXP", func(gc *gin.Context) { gc.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
