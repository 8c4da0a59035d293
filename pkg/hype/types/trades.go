package types

// UserFill 用户的一笔成交记录，REST userFillsByTime 和 ws userFills 共用
type UserFill struct {
	ClosedPnl     string `json:"closedPnl"`
	Coin          string `json:"coin"`
	Crossed       bool   `json:"crossed"`
	Dir           string `json:"dir"` // "Open Long" / "Close Short" 等
	Hash          string `json:"hash"`
	Oid           int64  `json:"oid"`
	Px            string `json:"px"`
	Side          string `json:"side"` // "B" 买 / "A" 卖
	StartPosition string `json:"startPosition"`
	Sz            string `json:"sz"`
	Time          int64  `json:"time"`
	Fee           string `json:"fee"`
	FeeToken      string `json:"feeToken"`
	BuilderFee    string `json:"builderFee"`
	Tid           int64  `json:"tid"`
}
