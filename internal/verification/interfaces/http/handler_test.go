package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/banksettlement/internal/verification/application"
	"github.com/wyfcoding/banksettlement/internal/verification/infrastructure/persistence/memory"
	"github.com/wyfcoding/banksettlement/pkg/logger"
	"github.com/wyfcoding/banksettlement/pkg/middleware"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NextID() int64 { return s.n.Add(1) }

type countingDecider struct{ confirmed, rejected atomic.Int32 }

func (d *countingDecider) Confirm(context.Context, int64, int64) error {
	d.confirmed.Add(1)
	return nil
}

func (d *countingDecider) Reject(context.Context, int64, int64) error {
	d.rejected.Add(1)
	return nil
}

func do(r http.Handler, method, path, clientID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if clientID != "" {
		req.Header.Set(middleware.ClientIDHeader, clientID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVerificationFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := application.NewService(memory.NewRepository(), &seqIDs{}, application.DefaultConfig(), logger.Discard())
	dec := &countingDecider{}
	svc.SetDecider(dec)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)

	w := do(r, http.MethodPost, "/internal/v1/verifications", "", `{"userId":5,"targetId":900,"verificationType":"PAYMENT"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/internal/v1/verifications", "", `{"userId":5,"targetId":900,"verificationType":"PAYMENT"}`); w.Code != http.StatusConflict {
		t.Fatalf("duplicate create = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/internal/v1/verifications", "", `{"userId":5,"targetId":901,"verificationType":"LOAN"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad kind = %d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/v1/verifications", "5", "")
	var list struct {
		Verifications []application.RequestDTO `json:"verifications"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Verifications) != 1 || list.Verifications[0].TargetID != "900" {
		t.Fatalf("list = %s", w.Body.String())
	}
	id := list.Verifications[0].ID

	if w := do(r, http.MethodPost, "/api/v1/verifications/"+id+"/approve", "6", ""); w.Code != http.StatusNotFound {
		t.Fatalf("foreign approve = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/verifications/"+id+"/approve", "5", ""); w.Code != http.StatusNoContent {
		t.Fatalf("approve = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/api/v1/verifications/"+id+"/deny", "5", ""); w.Code != http.StatusConflict {
		t.Fatalf("deny after approve = %d", w.Code)
	}
	if dec.confirmed.Load() != 1 || dec.rejected.Load() != 0 {
		t.Fatalf("confirmed=%d rejected=%d", dec.confirmed.Load(), dec.rejected.Load())
	}
}
