package service

import (
	"context"
	"testing"

	"msmeconnect/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayWithWallet(t *testing.T) {
	s, db := newLedger(t)
	p := NewPaymentService(db, s, testConfig())
	fund(t, s, 3, "120")

	payment, err := p.PayWithWallet(context.Background(), DebitRequest{UserID: 3, Amount: dec("19.99"), ServiceName: "Listing-Boost"})
	require.NoError(t, err)
	assert.Equal(t, int64(1999), payment.Amount)
	assertBalance(t, s, 3, "100.01")

	got, err := p.GetPayment(context.Background(), payment.PaymentNo)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)

	_, err = p.GetPayment(context.Background(), "PAY-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordGatewayPayment(t *testing.T) {
	s, db := newLedger(t)
	p := NewPaymentService(db, s, testConfig())
	ctx := context.Background()
	fund(t, s, 3, "50")

	in := GatewayPayment{
		UserID:           3,
		ServiceName:      "Pro-Membership",
		Amount:           dec("999"),
		GatewayOrderID:   "order_Nx1",
		GatewayPaymentID: "pay_Nx1",
	}
	payment, err := p.RecordGatewayPayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.FundingGateway, payment.Funding)
	assert.Equal(t, model.PaymentStatusSuccess, payment.Status)
	require.NotNil(t, payment.GatewayOrderID)
	assert.Equal(t, "order_Nx1", *payment.GatewayOrderID)

	// 网关支付不影响余额
	assertBalance(t, s, 3, "50")
	assertConsistent(t, s, 3)
	assert.Equal(t, int64(1), outboxCount(t, db, model.EventGatewayPayment))

	// 网关回调重复投递
	again, err := p.RecordGatewayPayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, again.ID)

	in.Amount = dec("1")
	_, err = p.RecordGatewayPayment(ctx, in)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestRecordGatewayPayment_Validation(t *testing.T) {
	s, db := newLedger(t)
	p := NewPaymentService(db, s, testConfig())
	ctx := context.Background()
	fund(t, s, 3, "0")

	cases := map[string]struct {
		in   GatewayPayment
		want error
	}{
		"zero amount":     {GatewayPayment{UserID: 3, ServiceName: "s", Amount: dec("0"), GatewayPaymentID: "p"}, ErrInvalidAmount},
		"missing gateway": {GatewayPayment{UserID: 3, ServiceName: "s", Amount: dec("1")}, ErrInvalidRequest},
		"bad status":      {GatewayPayment{UserID: 3, ServiceName: "s", Amount: dec("1"), GatewayPaymentID: "p", Status: "PENDING"}, ErrInvalidRequest},
		"unknown user":    {GatewayPayment{UserID: 9, ServiceName: "s", Amount: dec("1"), GatewayPaymentID: "p"}, ErrNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.RecordGatewayPayment(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
