package handler

import (
	"time"

	"msmeconnect/internal/model"
	"msmeconnect/pkg/money"
)

// 对外金额统一为两位小数字符串，如 "500.00"

func formatMinor(v int64) string {
	return money.FormatMinor(v)
}

type accountView struct {
	UserID    int64     `json:"user_id"`
	Balance   string    `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newAccountView(a *model.Account) accountView {
	return accountView{UserID: a.UserID, Balance: formatMinor(a.Balance), UpdatedAt: a.UpdatedAt}
}

type entryView struct {
	EntryNo       string    `json:"entry_no"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	Reference     string    `json:"reference"`
	Remark        string    `json:"remark,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func newEntryView(e *model.LedgerEntry) entryView {
	return entryView{
		EntryNo:       e.EntryNo,
		Type:          e.Type,
		Amount:        formatMinor(e.Amount),
		BalanceBefore: formatMinor(e.BalanceBefore),
		BalanceAfter:  formatMinor(e.BalanceAfter),
		Reference:     e.Reference,
		Remark:        e.Remark,
		CreatedAt:     e.CreatedAt,
	}
}

type paymentView struct {
	PaymentNo        string        `json:"payment_no"`
	UserID           int64         `json:"user_id"`
	ServiceName      string        `json:"service_name"`
	Amount           string        `json:"amount"`
	Funding          model.Funding `json:"funding"`
	Reference        string        `json:"reference"`
	GatewayOrderID   *string       `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string       `json:"gateway_payment_id,omitempty"`
	Status           string        `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
}

func newPaymentView(p *model.PaymentTransaction) paymentView {
	return paymentView{
		PaymentNo:        p.PaymentNo,
		UserID:           p.UserID,
		ServiceName:      p.ServiceName,
		Amount:           formatMinor(p.Amount),
		Funding:          p.Funding,
		Reference:        p.Reference,
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		Status:           p.Status,
		CreatedAt:        p.CreatedAt,
	}
}

type redemptionView struct {
	ID         int64              `json:"id"`
	RequestNo  string             `json:"request_no"`
	UserID     int64              `json:"user_id"`
	Amount     string             `json:"amount"`
	Method     model.PayoutMethod `json:"method"`
	Details    string             `json:"details"`
	Status     string             `json:"status"`
	ResolvedBy string             `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

func newRedemptionView(r *model.RedemptionRequest) redemptionView {
	return redemptionView{
		ID:         r.ID,
		RequestNo:  r.RequestNo,
		UserID:     r.UserID,
		Amount:     formatMinor(r.Amount),
		Method:     r.Method,
		Details:    r.Details,
		Status:     r.Status,
		ResolvedBy: r.ResolvedBy,
		ResolvedAt: r.ResolvedAt,
		CreatedAt:  r.CreatedAt,
	}
}

func newRedemptionViews(reqs []*model.RedemptionRequest) []redemptionView {
	views := make([]redemptionView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, newRedemptionView(r))
	}
	return views
}
