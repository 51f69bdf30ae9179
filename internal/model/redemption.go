package model

import (
	"time"
)

const (
	RedemptionStatusPending   = "PENDING"
	RedemptionStatusCompleted = "COMPLETED"
	RedemptionStatusFailed    = "FAILED"
)

// 只有 PENDING 可以流转，COMPLETED / FAILED 为终态
var ValidRedemptionTransitions = map[string][]string{
	RedemptionStatusPending: {RedemptionStatusCompleted, RedemptionStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidRedemptionTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminal 是否终态
func IsTerminal(status string) bool {
	_, exists := ValidRedemptionTransitions[status]
	return !exists
}

// PayoutMethod 提现渠道
type PayoutMethod string

const (
	PayoutMethodUPI          PayoutMethod = "UPI"
	PayoutMethodBank         PayoutMethod = "BANK"
	PayoutMethodMobileWallet PayoutMethod = "MOBILE_WALLET"
)

func (m PayoutMethod) Valid() bool {
	switch m {
	case PayoutMethodUPI, PayoutMethodBank, PayoutMethodMobileWallet:
		return true
	}
	return false
}

// RedemptionRequest 提现申请
// Amount 为申请时的余额快照，之后不再重新计算
type RedemptionRequest struct {
	ID             int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo      string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_no"`
	UserID         int64        `gorm:"index;not null;uniqueIndex:uk_redemption_user_idem,priority:1" json:"user_id"`
	Amount         int64        `gorm:"not null" json:"amount"`
	Method         PayoutMethod `gorm:"type:varchar(20);not null" json:"method"`
	Details        string       `gorm:"type:varchar(256);not null" json:"details"`
	Status         string       `gorm:"type:varchar(20);index;not null" json:"status"`
	IdempotencyKey *string      `gorm:"type:varchar(128);uniqueIndex:uk_redemption_user_idem,priority:2" json:"idempotency_key,omitempty"`
	ResolvedBy     string       `gorm:"type:varchar(64)" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt      time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RedemptionRequest) TableName() string {
	return "redemption_request"
}
