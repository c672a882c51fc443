package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/banksettlement/internal/account/application"
	"github.com/wyfcoding/banksettlement/internal/account/domain"
	"github.com/wyfcoding/banksettlement/pkg/middleware"
)

// AccountHandler 账户查询 HTTP 处理器
type AccountHandler struct {
	query *application.AccountQueryService
}

// NewAccountHandler 创建 HTTP 处理器
func NewAccountHandler(query *application.AccountQueryService) *AccountHandler {
	return &AccountHandler{query: query}
}

// RegisterRoutes 注册路由
func (h *AccountHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1/accounts", middleware.RequireClient())
	{
		api.GET("", h.ListAccounts)
		api.GET("/:number", h.GetAccount)
	}
}

// GetAccount 查询账户
func (h *AccountHandler) GetAccount(c *gin.Context) {
	acc, err := h.query.GetAccount(c.Request.Context(), middleware.ClientID(c), c.Param("number"))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, acc)
}

// ListAccounts 列出当前客户的账户
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	accs, err := h.query.ListAccounts(c.Request.Context(), middleware.ClientID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accs})
}
