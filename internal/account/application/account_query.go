package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/banksettlement/internal/account/domain"
)

// AccountDTO 账户视图
type AccountDTO struct {
	AccountNumber    string `json:"account_number"`
	ClientID         int64  `json:"client_id"`
	OwnerName        string `json:"owner_name"`
	Currency         string `json:"currency"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"available_balance"`
	Status           string `json:"status"`
	Kind             string `json:"kind"`
}

func toDTO(a *domain.Account) *AccountDTO {
	return &AccountDTO{
		AccountNumber:    a.AccountNumber,
		ClientID:         a.ClientID,
		OwnerName:        a.OwnerName,
		Currency:         a.Currency,
		Balance:          a.Balance.StringFixed(2),
		AvailableBalance: a.AvailableBalance.StringFixed(2),
		Status:           string(a.Status),
		Kind:             string(a.Kind),
	}
}

// AccountQueryService 账户查询服务
type AccountQueryService struct {
	ledger domain.Ledger
}

// NewAccountQueryService 创建账户查询服务
func NewAccountQueryService(ledger domain.Ledger) *AccountQueryService {
	return &AccountQueryService{ledger: ledger}
}

// GetAccount 查询客户名下的单个账户，非本人账户按不存在处理
func (s *AccountQueryService) GetAccount(ctx context.Context, clientID int64, number string) (*AccountDTO, error) {
	a, err := s.ledger.FindByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !a.OwnedBy(clientID) {
		return nil, domain.ErrAccountNotFound
	}
	return toDTO(a), nil
}

// ListAccounts 列出客户账户
func (s *AccountQueryService) ListAccounts(ctx context.Context, clientID int64) ([]*AccountDTO, error) {
	accounts, err := s.ledger.ListByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list accounts of client %d: %w", clientID, err)
	}
	out := make([]*AccountDTO, len(accounts))
	for i, a := range accounts {
		out[i] = toDTO(a)
	}
	return out, nil
}
