// Package adminapi exposes a small gin-based control surface over a running
// Orchestrator: health/status reporting and a pause/resume switch gated by a
// bearer JWT (and, for pause/resume, a TOTP code), following the gin
// handler/response conventions of SynapseStrike/api/tactics.go.
package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashfall-systems/perpcore/internal/adminapi/auth"
	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/notify"
	"github.com/ashfall-systems/perpcore/internal/orchestrator"
)

var log = logging.For("adminapi")

// tokenTTL is how long an issued session token is valid for.
const tokenTTL = 12 * time.Hour

// Controller is the subset of *orchestrator.Orchestrator the admin API
// drives, kept narrow so handlers are easy to exercise with a fake in tests.
type Controller interface {
	Status() orchestrator.StatusSnapshot
	PauseTrading()
	ResumeTrading()
	IsTradingPaused() bool
}

// Server wraps a gin.Engine configured with the admin routes.
type Server struct {
	engine *gin.Engine
	orch   Controller
	notif  *notify.Manager

	jwtSecret       string
	totpSecret      string
	adminSecretHash string
	clock           clock.Clock
}

// New builds a Server. jwtSecret and totpSecret come from
// config.AppSettings.JWTSecret/TOTPSecret; an empty totpSecret disables the
// TOTP gate on pause/resume (intended for local/dev use only). adminSecretHash
// is config.AppSettings.AdminSecretHash: when set, login compares the
// supplied secret against this bcrypt hash instead of the plaintext
// jwtSecret, so the real login credential never needs to sit in the
// environment unhashed.
func New(orch Controller, notif *notify.Manager, jwtSecret, totpSecret, adminSecretHash string, c clock.Clock) *Server {
	if c == nil {
		c = clock.Real{}
	}
	s := &Server{orch: orch, notif: notif, jwtSecret: jwtSecret, totpSecret: totpSecret, adminSecretHash: adminSecretHash, clock: c}
	s.engine = s.buildEngine()
	return s
}

// Engine exposes the underlying gin.Engine, e.g. for http.ListenAndServe.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.POST("/login", s.handleLogin)

	protected := r.Group("/")
	protected.Use(auth.RequireBearer(s.jwtSecret))
	protected.GET("/status", s.handleStatus)
	protected.GET("/risk", s.handleRisk)

	sensitive := protected.Group("/")
	if s.totpSecret != "" {
		sensitive.Use(auth.RequireTOTP(s.totpSecret))
	}
	sensitive.POST("/pause", s.handlePause)
	sensitive.POST("/resume", s.handleResume)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleLogin issues a session token for any caller that knows the shared
// admin secret. There's no user store here: an operator supplies the
// configured admin secret directly as a one-time login credential, trading
// convenience for the small number of operators this control plane expects.
// When adminSecretHash is configured the secret is checked against that
// bcrypt hash; otherwise it falls back to a plaintext comparison against
// jwtSecret, for local/dev setups that never set ADMIN_SECRET_HASH.
func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Operator string `json:"operator" binding:"required"`
		Secret   string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request parameters: " + err.Error()})
		return
	}

	var credentialsOK bool
	if s.adminSecretHash != "" {
		credentialsOK = auth.VerifySecret(s.adminSecretHash, req.Secret)
	} else {
		credentialsOK = s.jwtSecret != "" && req.Secret == s.jwtSecret
	}
	if !credentialsOK {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := auth.IssueToken(s.jwtSecret, req.Operator, tokenTTL, s.clock)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in_seconds": int(tokenTTL.Seconds())})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.orch.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":             snap.State,
		"equity":            snap.Equity.String(),
		"open_positions":    snap.OpenPositionCount,
		"active_strategies": snap.ActiveStrategies,
		"trading_paused":    snap.TradingPaused,
		"risk_state":        snap.RiskState,
		"risk_block_reason": snap.RiskBlockReason,
		"drawdown_pct":      snap.DrawdownPct.String(),
	})
}

func (s *Server) handleRisk(c *gin.Context) {
	snap := s.orch.Status()
	c.JSON(http.StatusOK, gin.H{
		"risk_state":        snap.RiskState,
		"risk_block_reason": snap.RiskBlockReason,
		"drawdown_pct":      snap.DrawdownPct.String(),
	})
}

func (s *Server) handlePause(c *gin.Context) {
	s.orch.PauseTrading()
	operator := c.GetString("operator")
	log.WithField("operator", operator).Warn("trading paused via admin api")
	if s.notif != nil {
		s.notif.FireAlert(notify.Alert{
			Severity: notify.SeverityWarning, Title: "Trading Paused",
			Message: "Trading paused via admin API by " + operator, Source: "adminapi",
		}, "")
	}
	c.JSON(http.StatusOK, gin.H{"message": "trading paused"})
}

func (s *Server) handleResume(c *gin.Context) {
	s.orch.ResumeTrading()
	operator := c.GetString("operator")
	log.WithField("operator", operator).Warn("trading resumed via admin api")
	if s.notif != nil {
		s.notif.FireAlert(notify.Alert{
			Severity: notify.SeverityInfo, Title: "Trading Resumed",
			Message: "Trading resumed via admin API by " + operator, Source: "adminapi",
		}, "")
	}
	c.JSON(http.StatusOK, gin.H{"message": "trading resumed"})
}
