package model

// All 需要自动迁移的表
func All() []interface{} {
	return []interface{}{
		&Account{},
		&LedgerEntry{},
		&PaymentTransaction{},
		&RedemptionRequest{},
		&OutboxMessage{},
		&ReferralReward{},
	}
}
