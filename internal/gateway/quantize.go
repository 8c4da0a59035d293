package gateway

import (
	"math"
	"strconv"
)

// 数量与价格的量化。交易所对数量精度和tick都有硬性要求，
// 不合规的订单直接被拒

// QuantizeSize 数量舍入到币种精度
func QuantizeSize(size float64, szDecimals int) float64 {
	factor := math.Pow10(szDecimals)
	return math.Round(size*factor) / factor
}

// CeilSize 数量向上取整到精度步长，凑最小名义价值时用
func CeilSize(size float64, szDecimals int) float64 {
	factor := math.Pow10(szDecimals)
	return math.Ceil(size*factor-1e-9) / factor
}

// FormatSize 数量的wire字符串，小数位数严格等于szDecimals
func FormatSize(size float64, szDecimals int) string {
	return strconv.FormatFloat(size, 'f', szDecimals, 64)
}

// QuantizePrice 价格舍入到tick
func QuantizePrice(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// FormatPrice 按tick决定的小数位数输出价格
func FormatPrice(price, tick float64) string {
	return strconv.FormatFloat(price, 'f', tickDecimals(tick), 64)
}

// tickDecimals tick=0.5 → 1位小数，0.001 → 3位
func tickDecimals(tick float64) int {
	if tick <= 0 || tick >= 1 {
		return 0
	}
	d := int(math.Ceil(-math.Log10(tick) - 1e-9))
	if d < 0 {
		d = 0
	}
	return d
}
