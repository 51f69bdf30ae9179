package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 金额换算
// ============================================================================
//
// 对外统一使用 decimal.Decimal，落库使用最小货币单位（paise）的 int64，
// 避免浮点误差在反复充值、扣款中累积。

// Scale 小数位数（1 INR = 100 paise）
const Scale = 2

var (
	ErrTooPrecise = errors.New("amount has more than 2 decimal places")
	ErrOverflow   = errors.New("amount out of range")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ToMinor 将金额转换为最小单位
func ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return 0, ErrOverflow
	}
	return shifted.IntPart(), nil
}

// FromMinor 将最小单位转换为金额
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -Scale)
}

// Format 固定两位小数输出，如 "500.00"
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// FormatMinor 最小单位直接格式化
func FormatMinor(v int64) string {
	return Format(FromMinor(v))
}
