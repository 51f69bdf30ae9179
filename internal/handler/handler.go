package handler

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"msmeconnect/internal/config"
	"msmeconnect/internal/model"
	"msmeconnect/internal/repository"
	"msmeconnect/internal/service"
	"msmeconnect/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledgerService  *service.LedgerService
	paymentService *service.PaymentService
	rewardService  *service.RewardService
}

// NewHandler 创建处理器实例，locker 为 nil 时不使用分布式锁
func NewHandler(db *gorm.DB, ledger *service.LedgerService, locker service.Locker, cfg *config.Config) (*Handler, error) {
	reward, err := cfg.Business.ReferralRewardAmount()
	if err != nil {
		return nil, err
	}

	return &Handler{
		ledgerService:  ledger,
		paymentService: service.NewPaymentService(db, ledger, cfg),
		rewardService:  service.NewRewardService(ledger, locker, reward),
	}, nil
}

// writeError 账本错误类型 -> 业务码
func writeError(c *gin.Context, err error) {
	var ib *service.InsufficientBalanceError
	switch {
	case errors.As(err, &ib):
		response.Error(c, response.CodeBalanceNotEnough,
			"insufficient balance: available "+ib.Available.StringFixed(2))
	case errors.Is(err, service.ErrInsufficientBalance):
		response.Error(c, response.CodeBalanceNotEnough, "insufficient balance")
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, response.CodeNotFound, "record not found")
	case errors.Is(err, service.ErrInvalidAmount):
		response.Error(c, response.CodeInvalidAmount, "amount must be positive with at most 2 decimal places")
	case errors.Is(err, service.ErrInvalidTransition):
		response.Error(c, response.CodeInvalidTransition, "redemption request is already resolved")
	case errors.Is(err, service.ErrIdempotencyConflict):
		response.Error(c, response.CodeIdempotencyConflict, "idempotency key already used for a different request")
	case errors.Is(err, service.ErrStorageConflict):
		response.Error(c, response.CodeStorageConflict, "concurrent update, please retry")
	case errors.Is(err, service.ErrInvalidRequest):
		response.ParamError(c, err.Error())
	default:
		log.Printf("[Handler] 内部错误: requestID=%s, path=%s, err=%v", c.GetString("request_id"), c.FullPath(), err)
		response.ServerError(c, "internal error")
	}
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || v <= 0 {
		response.ParamError(c, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(repository.DefaultPageSize)))
	return repository.NormalizePage(page, pageSize)
}

// idempotencyKey 请求体优先，其次 Idempotency-Key 头
func idempotencyKey(c *gin.Context, fromBody string) string {
	if k := strings.TrimSpace(fromBody); k != "" {
		return k
	}
	return strings.TrimSpace(c.GetHeader("Idempotency-Key"))
}

// ============================================================
// 账户相关接口
// ============================================================

type OpenAccountRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// OpenAccount 开户
// POST /api/v1/account/open
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid parameters: "+err.Error())
		return
	}

	account, err := h.ledgerService.OpenAccount(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newAccountView(account))
}

// GetBalance 查询余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	account, err := h.ledgerService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newAccountView(account))
}

// ListEntries 账本流水
// GET /api/v1/account/entries?user_id=xxx&page=1&page_size=20
func (h *Handler) ListEntries(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	entries, total, err := h.ledgerService.ListLedgerEntries(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newEntryView(e))
	}
	response.Page(c, views, total, page, pageSize)
}

// Reconcile 单账户对账
// GET /api/v1/account/reconcile?user_id=xxx
func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	result, err := h.ledgerService.Reconcile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":    result.UserID,
		"balance":    formatMinor(result.Balance),
		"ledger_sum": formatMinor(result.LedgerSum),
		"consistent": result.Consistent,
	})
}

// ============================================================
// 支付相关接口
// ============================================================

type WalletPayRequest struct {
	UserID         int64           `json:"user_id" binding:"required,gt=0"`
	Amount         decimal.Decimal `json:"amount"`
	ServiceName    string          `json:"service_name" binding:"required,max=128"`
	IdempotencyKey string          `json:"idempotency_key" binding:"max=128"`
}

// PayWithWallet 钱包支付
// POST /api/v1/pay/wallet
func (h *Handler) PayWithWallet(c *gin.Context) {
	var req WalletPayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid parameters: "+err.Error())
		return
	}

	payment, err := h.paymentService.PayWithWallet(c.Request.Context(), service.DebitRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		ServiceName:    req.ServiceName,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newPaymentView(payment))
}

type GatewayPayRequest struct {
	UserID           int64           `json:"user_id" binding:"required,gt=0"`
	Amount           decimal.Decimal `json:"amount"`
	ServiceName      string          `json:"service_name" binding:"required,max=128"`
	GatewayOrderID   string          `json:"gateway_order_id" binding:"max=64"`
	GatewayPaymentID string          `json:"gateway_payment_id" binding:"required,max=64"`
	Status           string          `json:"status" binding:"omitempty,oneof=SUCCESS FAILED"`
}

// RecordGatewayPayment 登记网关支付结果
// POST /api/v1/pay/gateway
func (h *Handler) RecordGatewayPayment(c *gin.Context) {
	var req GatewayPayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid parameters: "+err.Error())
		return
	}

	payment, err := h.paymentService.RecordGatewayPayment(c.Request.Context(), service.GatewayPayment{
		UserID:           req.UserID,
		ServiceName:      req.ServiceName,
		Amount:           req.Amount,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Status:           req.Status,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newPaymentView(payment))
}

// ListPayments 支付记录
// GET /api/v1/pay/list?user_id=xxx&page=1&page_size=20
func (h *Handler) ListPayments(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	payments, total, err := h.ledgerService.ListPayments(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, newPaymentView(p))
	}
	response.Page(c, views, total, page, pageSize)
}

// ============================================================
// 提现相关接口
// ============================================================

type RedemptionRequestBody struct {
	UserID         int64  `json:"user_id" binding:"required,gt=0"`
	Method         string `json:"method" binding:"required,payout_method"`
	Details        string `json:"details" binding:"required,max=256"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=128"`
}

// RequestRedemption 申请全额提现
// POST /api/v1/redemption/request
func (h *Handler) RequestRedemption(c *gin.Context) {
	var req RedemptionRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid parameters: "+err.Error())
		return
	}

	redemption, err := h.ledgerService.RequestRedemption(c.Request.Context(), service.RedemptionInput{
		UserID:         req.UserID,
		Method:         model.PayoutMethod(req.Method),
		Details:        req.Details,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newRedemptionView(redemption))
}

// ListRedemptions 用户提现记录
// GET /api/v1/redemption/list?user_id=xxx
func (h *Handler) ListRedemptions(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	reqs, total, err := h.ledgerService.ListRedemptions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Page(c, newRedemptionViews(reqs), total, page, pageSize)
}

// GetRedemption 提现单详情
// GET /api/v1/redemption/detail?id=xxx
func (h *Handler) GetRedemption(c *gin.Context) {
	id, ok := queryInt64(c, "id")
	if !ok {
		return
	}

	req, err := h.ledgerService.GetRedemption(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newRedemptionView(req))
}

// ============================================================
// 推荐奖励
// ============================================================

type ReferralRewardRequest struct {
	ReferrerID int64 `json:"referrer_id" binding:"required,gt=0"`
	RefereeID  int64 `json:"referee_id" binding:"required,gt=0,nefield=ReferrerID"`
}

// RewardReferral 推荐奖励入账
// POST /api/v1/referral/reward
func (h *Handler) RewardReferral(c *gin.Context) {
	var req ReferralRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid parameters: "+err.Error())
		return
	}

	entry, err := h.rewardService.RewardReferral(c.Request.Context(), req.ReferrerID, req.RefereeID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newEntryView(entry))
}
