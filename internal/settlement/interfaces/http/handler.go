// Package http 付款与转账的客户接口，以及二次验证结果的内部回调
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/settlement/application"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"github.com/wyfcoding/banksettlement/pkg/middleware"
)

// Handler 付款 HTTP 处理器
type Handler struct {
	cmd   *application.PaymentCommandService
	query *application.PaymentQueryService
}

// NewHandler 创建 HTTP 处理器
func NewHandler(cmd *application.PaymentCommandService, query *application.PaymentQueryService) *Handler {
	return &Handler{cmd: cmd, query: query}
}

type createPaymentRequest struct {
	SenderAccountNumber   string          `json:"senderAccountNumber" binding:"required"`
	ReceiverAccountNumber string          `json:"receiverAccountNumber" binding:"required"`
	ReceiverName          string          `json:"receiverName"`
	ReceiverCurrency      string          `json:"receiverCurrency"`
	Amount                decimal.Decimal `json:"amount"`
	PaymentCode           string          `json:"paymentCode"`
	Purpose               string          `json:"purpose"`
	ReferenceNumber       string          `json:"referenceNumber"`
}

type createTransferRequest struct {
	SenderAccountNumber   string          `json:"senderAccountNumber" binding:"required"`
	ReceiverAccountNumber string          `json:"receiverAccountNumber" binding:"required"`
	Amount                decimal.Decimal `json:"amount"`
}

type decisionRequest struct {
	UserID int64 `json:"userId"`
}

// RegisterRoutes 注册路由。mw 作用于创建接口（如限流），internal 作用于验证回调分组。
func (h *Handler) RegisterRoutes(r gin.IRouter, mw []gin.HandlerFunc, internal ...gin.HandlerFunc) {
	api := r.Group("/api/v1", middleware.RequireClient())
	{
		api.GET("/payments", h.ListPayments)
		api.GET("/payments/:id", h.GetPayment)
	}
	create := api.Group("", mw...)
	{
		create.POST("/payments", h.CreatePayment)
		create.POST("/transfers", h.CreateTransfer)
	}

	in := r.Group("/internal/v1/payments", internal...)
	{
		in.POST("/:id/confirm", h.Confirm)
		in.POST("/:id/reject", h.Reject)
	}
}

// CreatePayment 受理付款
func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.cmd.CreatePayment(c.Request.Context(), middleware.ClientID(c), application.CreatePaymentCommand{
		SenderAccountNumber:   req.SenderAccountNumber,
		ReceiverAccountNumber: req.ReceiverAccountNumber,
		ReceiverName:          req.ReceiverName,
		ReceiverCurrency:      req.ReceiverCurrency,
		Amount:                req.Amount,
		PaymentCode:           req.PaymentCode,
		Purpose:               req.Purpose,
		ReferenceNumber:       req.ReferenceNumber,
	})
	respondCreated(c, dto, err)
}

// CreateTransfer 受理转账
func (h *Handler) CreateTransfer(c *gin.Context) {
	var req createTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.cmd.CreateTransfer(c.Request.Context(), middleware.ClientID(c), application.CreateTransferCommand{
		SenderAccountNumber:   req.SenderAccountNumber,
		ReceiverAccountNumber: req.ReceiverAccountNumber,
		Amount:                req.Amount,
	})
	respondCreated(c, dto, err)
}

// GetPayment 查询记录
func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	dto, err := h.query.GetPayment(c.Request.Context(), middleware.ClientID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// ListPayments 分页列出记录
func (h *Handler) ListPayments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.query.ListPayments(c.Request.Context(), middleware.ClientID(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}

// Confirm 二次验证通过
func (h *Handler) Confirm(c *gin.Context) {
	h.decide(c, h.cmd.Confirm)
}

// Reject 二次验证拒绝
func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, h.cmd.Reject)
}

func (h *Handler) decide(c *gin.Context, fn func(ctx context.Context, paymentID, userID int64) error) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := fn(c.Request.Context(), id, req.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func paymentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return 0, false
	}
	return id, true
}

// 余额不足时记录已落库为 CANCELED，一并返回
func respondCreated(c *gin.Context, dto *application.PaymentDTO, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, dto)
	case errors.Is(err, domain.ErrInsufficientFunds) && dto != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "payment": dto})
	default:
		writeError(c, err)
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case application.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
