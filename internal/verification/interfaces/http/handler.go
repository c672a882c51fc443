// Package http 二次验证的客户接口与内部创建接口
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/banksettlement/internal/verification/application"
	"github.com/wyfcoding/banksettlement/internal/verification/domain"
	"github.com/wyfcoding/banksettlement/pkg/middleware"
)

// Handler 二次验证 HTTP 处理器
type Handler struct {
	svc *application.Service
}

// NewHandler 创建 HTTP 处理器
func NewHandler(svc *application.Service) *Handler {
	return &Handler{svc: svc}
}

type createRequest struct {
	UserID   int64  `json:"userId" binding:"required"`
	TargetID int64  `json:"targetId" binding:"required"`
	Kind     string `json:"verificationType" binding:"required,oneof=PAYMENT TRANSFER"`
}

// RegisterRoutes 注册客户接口与内部接口，internal 组供付款受理跨进程创建请求
func (h *Handler) RegisterRoutes(r gin.IRouter, internal ...gin.HandlerFunc) {
	api := r.Group("/api/v1/verifications", middleware.RequireClient())
	{
		api.GET("", h.ListPending)
		api.POST("/:id/approve", h.Approve)
		api.POST("/:id/deny", h.Deny)
	}
	r.Group("/internal/v1/verifications", internal...).POST("", h.Create)
}

// Create 创建验证请求
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.svc.Create(c.Request.Context(), req.UserID, req.TargetID, req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto)
}

// ListPending 当前客户待处理的请求
func (h *Handler) ListPending(c *gin.Context) {
	reqs, err := h.svc.ListPending(c.Request.Context(), middleware.ClientID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verifications": reqs})
}

// Approve 确认
func (h *Handler) Approve(c *gin.Context) {
	h.resolve(c, h.svc.Approve)
}

// Deny 拒绝
func (h *Handler) Deny(c *gin.Context) {
	h.resolve(c, h.svc.Deny)
}

func (h *Handler) resolve(c *gin.Context, fn func(ctx context.Context, id, userID int64) error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification id"})
		return
	}
	if err := fn(c.Request.Context(), id, middleware.ClientID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrRequestNotFound), errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrRequestNotFound.Error()})
	case errors.Is(err, domain.ErrAlreadyPending), errors.Is(err, domain.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrExpired), errors.Is(err, domain.ErrTooManyAttempts):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
