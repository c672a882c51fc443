package barrier

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dtm-labs/client/dtmcli"
	accountmysql "github.com/wyfcoding/banksettlement/internal/account/infrastructure/persistence/mysql"
	"github.com/wyfcoding/banksettlement/internal/clearing/domain"
	"gorm.io/gorm"
)

const (
	// TableName 屏障表
	TableName = "interbank_barrier"
	transType = "saga"
	branchID  = "01"
)

// BarrierModel dtm 子事务屏障表结构
type BarrierModel struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TransType  string    `gorm:"column:trans_type;type:varchar(45);default:''"`
	GID        string    `gorm:"column:gid;type:varchar(128);default:'';uniqueIndex:uniq_barrier,priority:1"`
	BranchID   string    `gorm:"column:branch_id;type:varchar(128);default:'';uniqueIndex:uniq_barrier,priority:2"`
	Op         string    `gorm:"column:op;type:varchar(45);default:'';uniqueIndex:uniq_barrier,priority:3"`
	BarrierID  string    `gorm:"column:barrier_id;type:varchar(45);default:'';uniqueIndex:uniq_barrier,priority:4"`
	Reason     string    `gorm:"column:reason;type:varchar(45);default:''"`
	CreateTime time.Time `gorm:"column:create_time;autoCreateTime;index"`
	UpdateTime time.Time `gorm:"column:update_time;autoUpdateTime;index"`
}

// TableName 表名
func (BarrierModel) TableName() string {
	return TableName
}

// Migrate 建表。postgres 下 dtm 以 ON CONFLICT ON CONSTRAINT uniq_barrier 去重，需要把唯一索引提升为约束。
func Migrate(db *gorm.DB, driver string) error {
	if err := db.AutoMigrate(&BarrierModel{}); err != nil {
		return err
	}
	if driver != "postgres" {
		return nil
	}
	var n int64
	if err := db.Raw("SELECT count(*) FROM pg_constraint WHERE conname = ?", "uniq_barrier").Scan(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return db.Exec("ALTER TABLE " + TableName + " ADD CONSTRAINT uniq_barrier UNIQUE USING INDEX uniq_barrier").Error
}

// SQLGuard 基于 dtm 子事务屏障的分支去重，屏障记录与余额变更在同一本地事务内提交
type SQLGuard struct {
	db *gorm.DB
}

// NewSQLGuard 创建 SQL 屏障，driver 为 mysql 或 postgres
func NewSQLGuard(db *gorm.DB, driver string) *SQLGuard {
	dtmcli.SetBarrierTableName(TableName)
	dtmcli.SetCurrentDBType(driver)
	return &SQLGuard{db: db}
}

func (g *SQLGuard) Run(ctx context.Context, transactionID string, phase domain.Phase, fn func(ctx context.Context, ledger domain.GuardedLedger) error) error {
	bb, err := dtmcli.BarrierFrom(transType, transactionID, branchID, string(phase))
	if err != nil {
		return fmt.Errorf("build barrier for %s: %w", transactionID, err)
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}

	// 重复请求与空补偿时 CallWithDB 不调用业务函数且返回 nil
	executed := false
	err = bb.CallWithDB(sqlDB, func(tx *sql.Tx) error {
		executed = true
		return fn(ctx, g.ledgerIn(ctx, tx))
	})
	if err != nil {
		return err
	}
	if !executed {
		return domain.ErrDuplicate
	}
	return nil
}

// ledgerIn 让分类账的条件更新跑在屏障所在的事务上
func (g *SQLGuard) ledgerIn(ctx context.Context, tx *sql.Tx) domain.GuardedLedger {
	txDB := g.db.Session(&gorm.Session{NewDB: true, Context: ctx})
	txDB.Statement.ConnPool = tx
	return accountmysql.NewLedger(txDB)
}
