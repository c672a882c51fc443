package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ledger 分类账访问接口
// 每个变更方法都是针对单个账户的原子操作；跨账户的一致性由调用方编排与补偿。
type Ledger interface {
	// FindByNumber 按账号查询，不存在返回 ErrAccountNotFound
	FindByNumber(ctx context.Context, number string) (*Account, error)
	// FindBankAccount 查询本行指定货币的自有账户
	FindBankAccount(ctx context.Context, currency string) (*Account, error)
	// ListByClient 查询客户名下账户
	ListByClient(ctx context.Context, clientID int64) ([]*Account, error)
	// Save 新建或覆盖账户（开户与初始化数据）
	Save(ctx context.Context, account *Account) error

	// Debit 扣减余额与可用余额，可用余额不足返回 ErrInsufficientFunds
	Debit(ctx context.Context, number string, amount decimal.Decimal) error
	// Credit 增加余额与可用余额
	Credit(ctx context.Context, number string, amount decimal.Decimal) error
	// Reserve 仅扣减可用余额（预留），不足返回 ErrInsufficientFunds
	Reserve(ctx context.Context, number string, amount decimal.Decimal) error
	// Release 释放预留，恢复可用余额
	Release(ctx context.Context, number string, amount decimal.Decimal) error
	// CaptureReserved 将预留金额正式扣账（仅扣减账面余额）
	CaptureReserved(ctx context.Context, number string, amount decimal.Decimal) error
	// ReverseCredit 冲正一笔入账，仅当账面余额 >= amount 时生效，返回是否已冲正
	ReverseCredit(ctx context.Context, number string, amount decimal.Decimal) (bool, error)
}
