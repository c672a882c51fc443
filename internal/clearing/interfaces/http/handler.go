package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/banksettlement/internal/clearing/domain"
)

// Handler 跨行结算协议的 HTTP 入口，供对手行调用
type Handler struct {
	svc domain.Protocol
}

// NewHandler 创建 HTTP 处理器
func NewHandler(svc domain.Protocol) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册路由，mw 作用于整个 /interbank 分组（如限流）
func (h *Handler) RegisterRoutes(r gin.IRouter, mw ...gin.HandlerFunc) {
	api := r.Group("/interbank/v1", mw...)
	{
		api.POST("/prepare", h.Prepare)
		api.POST("/commit", h.Commit)
		api.POST("/cancel", h.Cancel)
	}
}

// Prepare 询价
func (h *Handler) Prepare(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	res, err := h.svc.Prepare(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Commit 入账
func (h *Handler) Commit(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	res, err := h.svc.Commit(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Cancel 冲正
func (h *Handler) Cancel(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	res, err := h.svc.Cancel(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func bind(c *gin.Context) (*domain.TransferRequest, bool) {
	var req domain.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if req.ToAccountNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "toAccountNumber is required"})
		return nil, false
	}
	return &req, true
}
