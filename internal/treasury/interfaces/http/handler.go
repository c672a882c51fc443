package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/treasury/application"
	"github.com/wyfcoding/banksettlement/internal/treasury/domain"
)

// RateHandler 汇率 HTTP 处理器
type RateHandler struct {
	resolver *application.RateResolver
}

// NewRateHandler 创建 HTTP 处理器
func NewRateHandler(resolver *application.RateResolver) *RateHandler {
	return &RateHandler{resolver: resolver}
}

// RegisterRoutes 注册路由
func (h *RateHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1/exchange-rates")
	{
		api.GET("", h.ListRates)
		api.PUT("", h.SaveRate)
		api.GET("/:from/:to", h.GetRate)
	}
}

// SaveRateRequest 维护汇率请求
type SaveRateRequest struct {
	From      string     `json:"from" binding:"required,len=3"`
	To        string     `json:"to" binding:"required,len=3"`
	Rate      string     `json:"rate" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
	Source    string     `json:"source"`
}

// SaveRate 维护汇率
func (h *RateHandler) SaveRate(c *gin.Context) {
	var req SaveRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate"})
		return
	}

	err = h.resolver.SaveRate(c.Request.Context(), application.SaveRateCommand{
		From:      req.From,
		To:        req.To,
		Rate:      rate,
		ExpiresAt: req.ExpiresAt,
		Source:    req.Source,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetRate 查询货币对的市场汇率与客户汇率
func (h *RateHandler) GetRate(c *gin.Context) {
	from, to := c.Param("from"), c.Param("to")
	market, err := h.resolver.MarketRate(c.Request.Context(), from, to)
	if err != nil {
		if errors.Is(err, domain.ErrRateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	client, err := h.resolver.Rate(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":        from,
		"to":          to,
		"market_rate": market.String(),
		"client_rate": client.String(),
	})
}

// ListRates 列出当前汇率
func (h *RateHandler) ListRates(c *gin.Context) {
	rates, err := h.resolver.ListRates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(rates))
	for _, r := range rates {
		out = append(out, gin.H{
			"from":         r.FromCurrency,
			"to":           r.ToCurrency,
			"rate":         r.Rate.String(),
			"effective_at": r.EffectiveAt,
			"expires_at":   r.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rates": out})
}
