package rest

import "strconv"

// 交易所的数值都是字符串编码，解析失败按0处理
func parseStringToFloat(str string) float64 {
	value, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0.0
	}
	return value
}
