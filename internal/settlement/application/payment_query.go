package application

import (
	"context"

	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
)

const maxPageSize = 100

// PaymentQueryService 划转记录查询
type PaymentQueryService struct {
	repo domain.PaymentRepository
}

// NewPaymentQueryService 创建查询服务
func NewPaymentQueryService(repo domain.PaymentRepository) *PaymentQueryService {
	return &PaymentQueryService{repo: repo}
}

// GetPayment 查询客户自己的记录，他人的记录按不存在处理
func (q *PaymentQueryService) GetPayment(ctx context.Context, clientID, id int64) (*PaymentDTO, error) {
	p, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ClientID != clientID {
		return nil, domain.ErrPaymentNotFound
	}
	return toPaymentDTO(p), nil
}

// ListPayments 分页列出客户的记录，按创建倒序
func (q *PaymentQueryService) ListPayments(ctx context.Context, clientID int64, limit, offset int) ([]*PaymentDTO, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	payments, err := q.repo.ListByClient(ctx, clientID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*PaymentDTO, len(payments))
	for i, p := range payments {
		out[i] = toPaymentDTO(p)
	}
	return out, nil
}
