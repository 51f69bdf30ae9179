package model

import (
	"time"
)

// ReferralReward 推荐奖励发放记录
// RefereeID 唯一：一个被推荐人只给一个推荐人发放一次奖励，与入账分录同事务写入
type ReferralReward struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RefereeID  int64     `gorm:"uniqueIndex;not null" json:"referee_id"`
	ReferrerID int64     `gorm:"index;not null" json:"referrer_id"`
	EntryNo    string    `gorm:"type:varchar(64);not null" json:"entry_no"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ReferralReward) TableName() string {
	return "referral_reward"
}
