package types

type UniverseItem struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
}

type Universe struct {
	Universe []UniverseItem `json:"universe"`
}

// BookLevel 订单簿单个档位
type BookLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// L2Book l2Book 返回的深度数据，levels[0]是买盘，levels[1]是卖盘
type L2Book struct {
	Coin   string        `json:"coin"`
	Levels [][]BookLevel `json:"levels"`
	Time   int64         `json:"time"`
}
