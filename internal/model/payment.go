package model

import (
	"time"
)

const (
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

// Funding 资金来源。钱包支付会扣减余额，网关支付只做记录。
type Funding string

const (
	FundingWallet  Funding = "WALLET"
	FundingGateway Funding = "GATEWAY"
)

// TouchesBalance 该笔支付是否影响钱包余额
func (f Funding) TouchesBalance() bool {
	return f == FundingWallet
}

// PaymentTransaction 支付记录，创建后不再修改
type PaymentTransaction struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	UserID           int64     `gorm:"index;not null;uniqueIndex:uk_payment_user_idem,priority:1" json:"user_id"`
	ServiceName      string    `gorm:"type:varchar(128);not null" json:"service_name"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Funding          Funding   `gorm:"type:varchar(16);index;not null" json:"funding"`
	Reference        string    `gorm:"type:varchar(64)" json:"reference"` // 钱包支付为内部 WLT 单号
	GatewayOrderID   *string   `gorm:"type:varchar(64)" json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string   `gorm:"type:varchar(64);uniqueIndex" json:"gateway_payment_id,omitempty"`
	IdempotencyKey   *string   `gorm:"type:varchar(128);uniqueIndex:uk_payment_user_idem,priority:2" json:"idempotency_key,omitempty"`
	Status           string    `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transaction"
}
