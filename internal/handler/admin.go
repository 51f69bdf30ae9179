package handler

import (
	"fmt"
	"net/http"
	"time"

	"msmeconnect/internal/export"
	"msmeconnect/internal/model"
	"msmeconnect/internal/service"
	"msmeconnect/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ============================================================
// 后台接口（需管理员 JWT）
// ============================================================

// ListPendingRedemptions 待处理提现单，按申请时间先后
// GET /api/v1/admin/redemptions/pending
func (h *Handler) ListPendingRedemptions(c *gin.Context) {
	page, pageSize := pageParams(c)

	reqs, total, err := h.ledgerService.ListPendingRedemptions(c.Request.Context(), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Page(c, newRedemptionViews(reqs), total, page, pageSize)
}

type ResolveRedemptionRequest struct {
	RequestID int64  `json:"request_id" binding:"required,gt=0"`
	Outcome   string `json:"outcome" binding:"required,oneof=COMPLETED FAILED"`
}

// ResolveRedemption 处理提现单：打款成功 COMPLETED，失败 FAILED（原额退回）
// POST /api/v1/admin/redemptions/resolve
func (h *Handler) ResolveRedemption(c *gin.Context) {
	var req ResolveRedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid parameters: "+err.Error())
		return
	}

	resolved, err := h.ledgerService.ResolveRedemption(c.Request.Context(), req.RequestID, req.Outcome, adminSubject(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newRedemptionView(resolved))
}

// ExportRedemptions 导出提现单 Excel，默认导出 PENDING
// GET /api/v1/admin/redemptions/export?status=PENDING
func (h *Handler) ExportRedemptions(c *gin.Context) {
	status := c.DefaultQuery("status", model.RedemptionStatusPending)
	switch status {
	case model.RedemptionStatusPending, model.RedemptionStatusCompleted, model.RedemptionStatusFailed:
	default:
		response.ParamError(c, "unknown status "+status)
		return
	}

	all, err := h.ledgerService.ListAllRedemptionsByStatus(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}

	data, err := export.RedemptionWorkbook(all)
	if err != nil {
		writeError(c, err)
		return
	}

	filename := fmt.Sprintf("redemptions_%s_%s.xlsx", status, time.Now().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

type AdminCreditRequest struct {
	UserID         int64           `json:"user_id" binding:"required,gt=0"`
	Amount         decimal.Decimal `json:"amount"`
	Source         string          `json:"source" binding:"omitempty,oneof=REFERRAL ADJUSTMENT PROMOTION"`
	Reference      string          `json:"reference" binding:"max=64"`
	IdempotencyKey string          `json:"idempotency_key" binding:"max=128"`
}

// Credit 人工入账
// POST /api/v1/admin/credit
func (h *Handler) Credit(c *gin.Context) {
	var req AdminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid parameters: "+err.Error())
		return
	}

	reference := req.Reference
	if reference == "" {
		reference = "admin:" + adminSubject(c)
	}
	entry, err := h.ledgerService.Credit(c.Request.Context(), service.CreditRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Source:         req.Source,
		Reference:      reference,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newEntryView(entry))
}
