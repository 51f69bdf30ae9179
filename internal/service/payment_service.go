package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"msmeconnect/internal/config"
	"msmeconnect/internal/infrastructure/database"
	"msmeconnect/internal/infrastructure/metrics"
	"msmeconnect/internal/model"
	"msmeconnect/internal/repository"
	"msmeconnect/pkg/idgen"
	"msmeconnect/pkg/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentService 服务支付入口
//
// 钱包支付走账本 Debit；网关支付（Razorpay 回调）只登记支付记录，不触碰余额。
type PaymentService struct {
	db          *gorm.DB
	ledger      *LedgerService
	events      *eventWriter
	accountRepo *repository.AccountRepository
	paymentRepo *repository.PaymentRepository
}

func NewPaymentService(db *gorm.DB, ledger *LedgerService, cfg *config.Config) *PaymentService {
	return &PaymentService{
		db:     db,
		ledger: ledger,
		events: &eventWriter{
			topic:      cfg.Kafka.Topic.WalletEvents,
			outboxRepo: repository.NewOutboxRepository(db),
		},
		accountRepo: repository.NewAccountRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
	}
}

// GatewayPayment 网关侧已完成的支付
type GatewayPayment struct {
	UserID           int64
	ServiceName      string
	Amount           decimal.Decimal
	GatewayOrderID   string
	GatewayPaymentID string
	Status           string
}

// PayWithWallet 使用钱包余额支付服务
func (s *PaymentService) PayWithWallet(ctx context.Context, req DebitRequest) (*model.PaymentTransaction, error) {
	return s.ledger.Debit(ctx, req)
}

// RecordGatewayPayment 登记网关支付，按 gateway_payment_id 幂等
func (s *PaymentService) RecordGatewayPayment(ctx context.Context, in GatewayPayment) (payment *model.PaymentTransaction, err error) {
	var minor int64
	defer func() { metrics.ObserveLedger("gateway_record", Kind(err), minor) }()

	minor, err = positiveMinor(in.Amount)
	if err != nil {
		return nil, err
	}
	serviceName := strings.TrimSpace(in.ServiceName)
	gatewayPaymentID := strings.TrimSpace(in.GatewayPaymentID)
	if serviceName == "" || gatewayPaymentID == "" {
		return nil, fmt.Errorf("%w: service name and gateway payment id are required", ErrInvalidRequest)
	}
	status := in.Status
	if status == "" {
		status = model.PaymentStatusSuccess
	}
	if status != model.PaymentStatusSuccess && status != model.PaymentStatusFailed {
		return nil, fmt.Errorf("%w: unsupported payment status %q", ErrInvalidRequest, status)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.paymentRepo.GetByGatewayPaymentID(ctx, tx, gatewayPaymentID)
		if err != nil {
			return err
		}
		if existing != nil {
			payment, err = replayGateway(existing, in.UserID, minor)
			return err
		}

		if _, err := s.accountRepo.GetByUserID(ctx, tx, in.UserID); err != nil {
			return err
		}

		payment = &model.PaymentTransaction{
			PaymentNo:        idgen.GeneratePaymentNo(),
			UserID:           in.UserID,
			ServiceName:      serviceName,
			Amount:           minor,
			Funding:          model.FundingGateway,
			Reference:        gatewayPaymentID,
			GatewayPaymentID: &gatewayPaymentID,
			Status:           status,
		}
		if orderID := strings.TrimSpace(in.GatewayOrderID); orderID != "" {
			payment.GatewayOrderID = &orderID
		}
		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return err
		}

		return s.events.emit(ctx, tx, model.EventGatewayPayment, in.UserID, map[string]interface{}{
			"payment_no":         payment.PaymentNo,
			"service_name":       serviceName,
			"amount":             money.FormatMinor(minor),
			"gateway_payment_id": gatewayPaymentID,
			"status":             status,
		})
	})

	if err != nil && database.IsDuplicateKey(err) {
		existing, lookupErr := s.paymentRepo.GetByGatewayPaymentID(ctx, nil, gatewayPaymentID)
		if lookupErr == nil && existing != nil {
			payment, err = replayGateway(existing, in.UserID, minor)
		}
	}
	if err != nil {
		return nil, translate(err)
	}

	log.Printf("[Payment] 网关支付已登记: paymentNo=%s, userID=%d, amount=%s, gatewayPaymentID=%s",
		payment.PaymentNo, payment.UserID, money.FormatMinor(payment.Amount), gatewayPaymentID)
	return payment, nil
}

func replayGateway(existing *model.PaymentTransaction, userID, minor int64) (*model.PaymentTransaction, error) {
	if existing.UserID != userID || existing.Amount != minor {
		return nil, ErrIdempotencyConflict
	}
	return existing, nil
}

// GetPayment 按支付单号查询
func (s *PaymentService) GetPayment(ctx context.Context, paymentNo string) (*model.PaymentTransaction, error) {
	payment, err := s.paymentRepo.GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return nil, translate(err)
	}
	return payment, nil
}
