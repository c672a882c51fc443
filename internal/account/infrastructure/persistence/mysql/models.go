package mysql

import (
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/account/domain"
	"gorm.io/gorm"
)

// AccountModel 账户表
type AccountModel struct {
	gorm.Model
	AccountNumber    string          `gorm:"column:account_number;type:varchar(32);uniqueIndex;not null"`
	ClientID         int64           `gorm:"column:client_id;index;not null"`
	OwnerName        string          `gorm:"column:owner_name;type:varchar(128)"`
	Currency         string          `gorm:"column:currency;type:char(3);not null;index:idx_kind_currency,priority:2"`
	Balance          decimal.Decimal `gorm:"column:balance;type:decimal(20,2);not null;default:0"`
	AvailableBalance decimal.Decimal `gorm:"column:available_balance;type:decimal(20,2);not null;default:0"`
	Status           string          `gorm:"column:status;type:varchar(16);not null"`
	Kind             string          `gorm:"column:kind;type:varchar(16);not null;index:idx_kind_currency,priority:1"`
}

// TableName 表名
func (AccountModel) TableName() string {
	return "accounts"
}

func toAccountModel(a *domain.Account) *AccountModel {
	return &AccountModel{
		AccountNumber:    a.AccountNumber,
		ClientID:         a.ClientID,
		OwnerName:        a.OwnerName,
		Currency:         a.Currency,
		Balance:          a.Balance,
		AvailableBalance: a.AvailableBalance,
		Status:           string(a.Status),
		Kind:             string(a.Kind),
	}
}

func toAccount(m *AccountModel) *domain.Account {
	return &domain.Account{
		AccountNumber:    m.AccountNumber,
		ClientID:         m.ClientID,
		OwnerName:        m.OwnerName,
		Currency:         m.Currency,
		Balance:          m.Balance,
		AvailableBalance: m.AvailableBalance,
		Status:           domain.AccountStatus(m.Status),
		Kind:             domain.AccountKind(m.Kind),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
