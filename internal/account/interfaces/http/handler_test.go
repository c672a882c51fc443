package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/account/application"
	"github.com/wyfcoding/banksettlement/internal/account/domain"
	"github.com/wyfcoding/banksettlement/internal/account/infrastructure/persistence/memory"
	"github.com/wyfcoding/banksettlement/pkg/middleware"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	ledger := memory.NewLedger(&domain.Account{
		AccountNumber:    "111000001",
		ClientID:         5,
		Currency:         "RSD",
		Balance:          decimal.NewFromInt(1000),
		AvailableBalance: decimal.NewFromInt(900),
		Status:           domain.AccountStatusActive,
		Kind:             domain.AccountKindClient,
	})
	r := gin.New()
	NewAccountHandler(application.NewAccountQueryService(ledger)).RegisterRoutes(r)
	return r
}

func TestGetAccount(t *testing.T) {
	r := newRouter()

	tests := []struct {
		name     string
		clientID string
		number   string
		want     int
	}{
		{"owner", "5", "111000001", http.StatusOK},
		{"other client", "6", "111000001", http.StatusNotFound},
		{"unknown", "5", "111999999", http.StatusNotFound},
		{"no identity", "", "111000001", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/"+tt.number, nil)
			if tt.clientID != "" {
				req.Header.Set(middleware.ClientIDHeader, tt.clientID)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestGetAccountBody(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/111000001", nil)
	req.Header.Set(middleware.ClientIDHeader, "5")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var dto application.AccountDTO
	if err := json.Unmarshal(w.Body.Bytes(), &dto); err != nil {
		t.Fatal(err)
	}
	if dto.Balance != "1000.00" || dto.AvailableBalance != "900.00" {
		t.Fatalf("dto = %+v", dto)
	}
}
