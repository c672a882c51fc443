// Package client 付款受理依赖的外部服务：用户目录与二次验证
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
)

// ErrClientNotFound 用户服务中不存在该客户
var ErrClientNotFound = errors.New("client not found")

// UserDirectory 通过 HTTP 查询用户服务
type UserDirectory struct {
	client *resty.Client
}

var _ domain.ClientDirectory = (*UserDirectory)(nil)

// NewUserDirectory 创建用户服务客户端
func NewUserDirectory(baseURL string, timeout time.Duration) *UserDirectory {
	return &UserDirectory{client: resty.New().SetBaseURL(baseURL).SetTimeout(timeout)}
}

func (d *UserDirectory) GetClientByID(ctx context.Context, id int64) (*domain.Client, error) {
	var out domain.Client
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/v1/clients/" + strconv.FormatInt(id, 10))
	if err != nil {
		return nil, fmt.Errorf("user service: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrClientNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("user service: status %d", resp.StatusCode())
	}
	return &out, nil
}

// StaticDirectory 固定的客户表，用于开发环境
type StaticDirectory struct {
	mu      sync.RWMutex
	clients map[int64]*domain.Client
}

var _ domain.ClientDirectory = (*StaticDirectory)(nil)

// NewStaticDirectory 创建固定客户表
func NewStaticDirectory(clients ...*domain.Client) *StaticDirectory {
	d := &StaticDirectory{clients: make(map[int64]*domain.Client, len(clients))}
	for _, c := range clients {
		d.clients[c.ID] = c
	}
	return d
}

func (d *StaticDirectory) GetClientByID(_ context.Context, id int64) (*domain.Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}
