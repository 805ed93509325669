package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"doorgate/internal/allowlist"
	"doorgate/internal/audit"
	"doorgate/internal/auth"
	"doorgate/internal/calls"
	"doorgate/internal/config"
	"doorgate/internal/gate"
	"doorgate/internal/gpio"
	"doorgate/internal/sip"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Cfg       *config.Config
	Auth      *auth.Manager
	Allowlist *allowlist.Service
	Agent     *sip.Agent
	Gate      *gate.Service
	Calls     calls.Repository
	AuditLog  audit.Reader
	Pulser    *gpio.Pulser

	StartedAt time.Time
}

// --- Health and status ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int(time.Since(h.StartedAt).Seconds()),
		"sip":            h.Agent.Stats(),
		"allowlist":      h.Allowlist.Status(),
		"gpio":           h.Pulser.Stats(),
	})
}

// --- Auth ---

type tokenRequest struct {
	Secret  string `json:"secret"`
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// Token exchanges the bootstrap secret for an access token. This replaces a
// user store: the gate has operators, not accounts.
func (h Handlers) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.Cfg.Auth.BootstrapSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}
	if req.Subject == "" {
		req.Subject = "operator"
	}
	if req.Role == "" {
		req.Role = auth.RoleAdmin
	}

	tok, err := h.Auth.IssueAccess(time.Now(), req.Subject, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": tok,
		"expires_in":   int(h.Cfg.Auth.AccessTokenTTL.Seconds()),
	})
}

// --- Allowlist ---

func (h Handlers) Patterns(c *gin.Context) {
	st := h.Allowlist.Status()
	c.JSON(http.StatusOK, gin.H{
		"patterns": h.Allowlist.Numbers(),
		"status":   st,
	})
}

func (h Handlers) RefreshAllowlist(c *gin.Context) {
	ok := h.Allowlist.ForceRefresh(c.Request.Context())
	st := h.Allowlist.Status()
	code := http.StatusOK
	if !ok {
		// Refresh failed; the previous set stays live.
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{"refreshed": ok, "status": st})
}

// --- Calls ---

type simulateRequest struct {
	CallerID string `json:"caller_id"`
}

// SimulateCall drives a synthetic call through the full pipeline, including
// the gate decision. The relay fires if the caller matches.
func (h Handlers) SimulateCall(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CallerID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "caller_id required"})
		return
	}

	callID := h.Agent.SimulateCall(c.Request.Context(), req.CallerID)
	c.JSON(http.StatusAccepted, gin.H{"call_id": callID, "status": "simulated"})
}

func (h Handlers) ListCalls(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	recs, err := h.Calls.List(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call history lookup failed"})
		return
	}
	if recs == nil {
		recs = []calls.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

func (h Handlers) CallSummary(c *gin.Context) {
	sum, err := h.Calls.Summarize(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Gate ---

// PulseGate fires the relay manually, without a call.
func (h Handlers) PulseGate(c *gin.Context) {
	subject, _ := auth.Subject(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	fired := h.Gate.Pulse(c.Request.Context(), subject, role, c.ClientIP())
	if !fired {
		c.JSON(http.StatusConflict, gin.H{"pulsed": false, "error": "pulse already active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pulsed": true})
}

// --- Audit ---

func (h Handlers) AuditEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	evs, err := h.AuditLog.Recent(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	if evs == nil {
		evs = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
