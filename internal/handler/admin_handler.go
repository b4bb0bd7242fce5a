package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tailpay/internal/domain"
	"tailpay/internal/middleware"
	"tailpay/internal/models"
	"tailpay/internal/notify"
	"tailpay/internal/service"
	"tailpay/internal/ws"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	authSvc  *service.AuthService
	intents  *service.IntentService
	notifier notify.Notifier
	hub      *ws.Hub
}

func NewAdminHandler(authSvc *service.AuthService, intents *service.IntentService, notifier notify.Notifier, hub *ws.Hub) *AdminHandler {
	return &AdminHandler{authSvc: authSvc, intents: intents, notifier: notifier, hub: hub}
}

// AdminLogin handles POST /admin/login.
func (h *AdminHandler) AdminLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	access, exp, err := h.authSvc.Login(req.Username, req.Password)
	if errors.Is(err, service.ErrAdminDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "admin login disabled"})
		return
	}
	if err != nil {
		slog.Warn("admin login failed", "username", req.Username, "ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"access_token": access,
		"expires_at":   exp,
	})
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	counts, err := h.intents.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"intents":     counts,
			"subscribers": h.hub.ClientCount(),
		},
	})
}

// UpdateStatus handles PUT /admin/intents/:id/status. Marking a PENDING
// intent CONFIRMED records a manual observation first, so every change still
// follows the state machine.
func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status domain.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !req.Status.Valid() || req.Status == domain.StatusPending {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid status. Must be PARTIALLY_OBSERVED, CONFIRMED, or EXPIRED"})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	p, err := h.intents.FindByID(ctx, id)
	if err == nil && req.Status == domain.StatusConfirmed && p.Status == domain.StatusPending {
		p, err = h.observe(c, id)
	}
	if err == nil {
		var obs *service.Observation
		if req.Status == domain.StatusPartiallyObserved {
			obs = manualObservation()
		}
		p, err = h.intents.Transition(ctx, id, req.Status, obs)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Intent not found"})
		return
	case errors.Is(err, domain.ErrInconsistentTransition):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	case err != nil:
		slog.Error("manual status update failed", "intent_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
		return
	}
	switch p.Status {
	case domain.StatusPartiallyObserved:
		h.notifier.Emit(p.Event(domain.EventObserved, time.Now()))
	case domain.StatusConfirmed:
		h.notifier.Emit(p.Event(domain.EventConfirmed, time.Now()))
	}
	slog.Info("intent status set manually", "intent_id", id, "status", p.Status, "by", middleware.GetUsername(c))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    p,
		"message": fmt.Sprintf("Intent status updated to %s", p.Status),
	})
}

func (h *AdminHandler) observe(c *gin.Context, id string) (*models.PaymentIntent, error) {
	p, err := h.intents.Transition(c.Request.Context(), id, domain.StatusPartiallyObserved, manualObservation())
	if err != nil {
		return nil, err
	}
	h.notifier.Emit(p.Event(domain.EventObserved, time.Now()))
	return p, nil
}

func manualObservation() *service.Observation {
	return &service.Observation{
		Source: domain.SourceManual,
		TxRef:  fmt.Sprintf("MANUAL_%d", time.Now().UnixMilli()),
		Height: domain.NoBlockHeight,
	}
}
