package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/treasury/application"
	"github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence/memory"
	"github.com/wyfcoding/banksettlement/pkg/logger"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	resolver := application.NewRateResolver(memory.NewRateRepository(), application.ResolverConfig{
		HomeCurrency: "RSD",
		Commission:   decimal.RequireFromString("0.99"),
		AmountScale:  2,
	}, logger.Discard())
	r := gin.New()
	NewRateHandler(resolver).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSaveAndGetRate(t *testing.T) {
	r := newRouter()

	if w := do(r, http.MethodPut, "/api/v1/exchange-rates", `{"from":"EUR","to":"RSD","rate":"117.2"}`); w.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", w.Code, w.Body.String())
	}

	w := do(r, http.MethodGet, "/api/v1/exchange-rates/RSD/EUR", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["market_rate"] != "0.00853242" {
		t.Fatalf("inverse market rate = %s", body["market_rate"])
	}

	w = do(r, http.MethodGet, "/api/v1/exchange-rates", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"from":"EUR"`) {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}
}

func TestSaveRateValidation(t *testing.T) {
	r := newRouter()
	cases := []string{
		`{"from":"EUR","to":"RSD","rate":"abc"}`,
		`{"from":"EUR","to":"RSD","rate":"-1"}`,
		`{"from":"EURO","to":"RSD","rate":"1"}`,
		`{"to":"RSD","rate":"1"}`,
	}
	for _, body := range cases {
		if w := do(r, http.MethodPut, "/api/v1/exchange-rates", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, w.Code)
		}
	}
}

func TestGetRateNotFound(t *testing.T) {
	r := newRouter()
	if w := do(r, http.MethodGet, "/api/v1/exchange-rates/JPY/USD", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
