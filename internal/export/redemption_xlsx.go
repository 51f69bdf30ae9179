// Package export 生成后台打款用的 Excel 清单
package export

import (
	"fmt"

	"msmeconnect/internal/model"
	"msmeconnect/pkg/money"

	"github.com/xuri/excelize/v2"
)

const redemptionSheet = "Redemptions"

var redemptionHeader = []interface{}{
	"Request ID", "Request No", "User ID", "Amount (INR)", "Method", "Payout Details", "Status", "Requested At",
}

// RedemptionWorkbook 每个提现单一行，金额固定两位小数
func RedemptionWorkbook(reqs []*model.RedemptionRequest) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), redemptionSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := xl.SetSheetRow(redemptionSheet, "A1", &redemptionHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, r := range reqs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			r.ID,
			r.RequestNo,
			r.UserID,
			money.FormatMinor(r.Amount),
			string(r.Method),
			r.Details,
			r.Status,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := xl.SetSheetRow(redemptionSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
