package model

import (
	"time"
)

// ============================================================================
// 账本分录类型
// ============================================================================

const (
	EntryTypeCredit     = "CREDIT"     // 入账（奖励、人工调整）
	EntryTypeDebit      = "DEBIT"      // 钱包支付
	EntryTypeRedemption = "REDEMPTION" // 提现扣减
	EntryTypeRefund     = "REFUND"     // 提现失败退回
)

// 入账来源
const (
	CreditSourceReferral   = "REFERRAL"
	CreditSourceAdjustment = "ADJUSTMENT"
	CreditSourcePromotion  = "PROMOTION"
)

// LedgerEntry 账本分录
//
// 流水只追加，不修改，不删除。
// 账户余额恒等于该用户全部分录 Amount 之和，对账任务据此校验。
type LedgerEntry struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID         int64     `gorm:"index;not null;uniqueIndex:uk_entry_user_idem,priority:1" json:"user_id"`
	Amount         int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Type           string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore  int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter   int64     `gorm:"not null" json:"balance_after"`
	Reference      string    `gorm:"type:varchar(64);index" json:"reference"`
	IdempotencyKey *string   `gorm:"type:varchar(128);uniqueIndex:uk_entry_user_idem,priority:2" json:"idempotency_key,omitempty"`
	Remark         string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
