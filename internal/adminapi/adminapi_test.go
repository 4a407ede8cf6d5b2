package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfall-systems/perpcore/internal/adminapi/auth"
	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/orchestrator"
	"github.com/ashfall-systems/perpcore/internal/risk"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeController struct {
	paused bool
	status orchestrator.StatusSnapshot
}

func (f *fakeController) Status() orchestrator.StatusSnapshot { f.status.TradingPaused = f.paused; return f.status }
func (f *fakeController) PauseTrading()                       { f.paused = true }
func (f *fakeController) ResumeTrading()                      { f.paused = false }
func (f *fakeController) IsTradingPaused() bool               { return f.paused }

const jwtSecret = "test-jwt-secret"
const totpSecret = "JBSWY3DPEHPK3PXP"

func newTestServer(t *testing.T, withTOTP bool) (*Server, *fakeController) {
	t.Helper()
	fc := &fakeController{status: orchestrator.StatusSnapshot{
		State: "running", Equity: decimal.NewFromInt(10000), RiskState: risk.StateNormal,
		DrawdownPct: decimal.Zero, ActiveStrategies: []string{"ema_crossover"},
	}}
	secret := totpSecret
	if !withTOTP {
		secret = ""
	}
	s := New(fc, nil, jwtSecret, secret, "", clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	return s, fc
}

func authedRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	token, err := auth.IssueToken(jwtSecret, "alice", time.Hour, c)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthz_RequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus_RejectsUnauthenticatedRequest(t *testing.T) {
	s, _ := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatus_ReturnsSnapshotWhenAuthenticated(t *testing.T) {
	s, _ := newTestServer(t, false)
	req := authedRequest(t, http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, "10000", body["equity"])
}

func TestLogin_IssuesTokenForCorrectSecret(t *testing.T) {
	s, _ := newTestServer(t, false)
	payload, _ := json.Marshal(map[string]string{"operator": "alice", "secret": jwtSecret})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["token"])
}

func TestLogin_RejectsWrongSecret(t *testing.T) {
	s, _ := newTestServer(t, false)
	payload, _ := json.Marshal(map[string]string{"operator": "alice", "secret": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPause_WithoutTOTPGate_PausesTrading(t *testing.T) {
	s, fc := newTestServer(t, false)
	req := authedRequest(t, http.MethodPost, "/pause", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fc.IsTradingPaused())
}

func TestPause_WithTOTPGate_RequiresCode(t *testing.T) {
	s, fc := newTestServer(t, true)
	req := authedRequest(t, http.MethodPost, "/pause", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, fc.IsTradingPaused())
}

func TestPause_WithTOTPGate_AcceptsValidCode(t *testing.T) {
	s, fc := newTestServer(t, true)
	code, err := totp.GenerateCode(totpSecret, time.Now().UTC())
	require.NoError(t, err)

	req := authedRequest(t, http.MethodPost, "/pause", nil)
	req.Header.Set("X-TOTP-Code", code)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fc.IsTradingPaused())
}

func TestLogin_WithAdminSecretHash_AcceptsMatchingSecret(t *testing.T) {
	fc := &fakeController{status: orchestrator.StatusSnapshot{State: "running", Equity: decimal.Zero, RiskState: risk.StateNormal, DrawdownPct: decimal.Zero}}
	hash, err := auth.HashSecret("correct-horse-battery-staple")
	require.NoError(t, err)
	s := New(fc, nil, jwtSecret, "", hash, clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	payload, _ := json.Marshal(map[string]string{"operator": "alice", "secret": "correct-horse-battery-staple"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["token"])
}

func TestLogin_WithAdminSecretHash_RejectsPlaintextJWTSecret(t *testing.T) {
	fc := &fakeController{status: orchestrator.StatusSnapshot{State: "running", Equity: decimal.Zero, RiskState: risk.StateNormal, DrawdownPct: decimal.Zero}}
	hash, err := auth.HashSecret("correct-horse-battery-staple")
	require.NoError(t, err)
	s := New(fc, nil, jwtSecret, "", hash, clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	payload, _ := json.Marshal(map[string]string{"operator": "alice", "secret": jwtSecret})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResume_ClearsPauseFlag(t *testing.T) {
	s, fc := newTestServer(t, false)
	fc.paused = true

	req := authedRequest(t, http.MethodPost, "/resume", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, fc.IsTradingPaused())
}
