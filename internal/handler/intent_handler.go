package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tailpay/internal/domain"
	"tailpay/internal/models"
	"tailpay/internal/service"
)

type IntentHandler struct {
	svc     *service.IntentService
	address string
}

func NewIntentHandler(svc *service.IntentService, address string) *IntentHandler {
	return &IntentHandler{svc: svc, address: address}
}

type CreateIntentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Nickname string          `json:"nickname" binding:"omitempty,max=100"`
	Message  string          `json:"message" binding:"omitempty,max=500"`
}

type intentView struct {
	ID          string          `json:"id"`
	Status      domain.Status   `json:"status"`
	PayAmount   decimal.Decimal `json:"pay_amount"`
	Address     string          `json:"address"`
	Nickname    string          `json:"nickname"`
	Message     string          `json:"message"`
	ExpiresAt   time.Time       `json:"expires_at"`
	TxRef       string          `json:"tx_ref,omitempty"`
	Method      string          `json:"method,omitempty"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
}

func (h *IntentHandler) view(p *models.PaymentIntent) intentView {
	v := intentView{
		ID:          p.ID,
		Status:      p.Status,
		PayAmount:   p.PayAmount,
		Address:     h.address,
		Nickname:    p.Nickname,
		Message:     p.Message,
		ExpiresAt:   p.ExpiresAt,
		TxRef:       p.ObservedTxRef,
		ConfirmedAt: p.ConfirmedAt,
	}
	if p.Source != "" {
		v.Method = p.Method()
	}
	return v
}

// Create handles POST /intents.
func (h *IntentHandler) Create(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation failed", "details": err.Error()})
		return
	}
	p, err := h.svc.Create(c.Request.Context(), req.Amount, service.Metadata{
		Nickname: strings.TrimSpace(req.Nickname),
		Message:  strings.TrimSpace(req.Message),
	})
	if errors.Is(err, domain.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation failed", "details": err.Error()})
		return
	}
	if err != nil {
		slog.Error("failed to create payment intent", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"id":            p.ID,
			"pay_amount":    p.PayAmount,
			"address":       h.address,
			"expires_at":    p.ExpiresAt,
			"tail_degraded": p.TailDegraded,
		},
	})
}

// Get handles GET /intents/:id.
func (h *IntentHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid intent ID"})
		return
	}
	p, err := h.svc.FindByID(c.Request.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Intent not found"})
		return
	}
	if err != nil {
		slog.Error("failed to load payment intent", "intent_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.view(p)})
}

// Recent handles GET /intents/recent.
func (h *IntentHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		slog.Error("failed to list recent intents", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
		return
	}
	data := make([]gin.H, 0, len(list))
	for i := range list {
		nickname := list[i].Nickname
		if nickname == "" {
			nickname = domain.DefaultNickname
		}
		data = append(data, gin.H{
			"id":         list[i].ID,
			"amount":     list[i].PayAmount,
			"nickname":   nickname,
			"message":    list[i].Message,
			"created_at": list[i].CreatedAt,
			"method":     list[i].Method(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}
