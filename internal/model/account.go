package model

import (
	"time"
)

// Account 用户钱包账户
// 余额以最小货币单位（paise）存储，只能通过 Credit / Debit 类操作变更
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"` // 可用余额（paise），恒 >= 0
	Version   int       `gorm:"not null;default:0" json:"version"` // 每次变更 +1
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "wallet_account"
}
