package types

// 下单动作的wire结构，字段名是交易所要求的单字母键

type OrderTypeLimit struct {
	Tif string `json:"tif"` // "Ioc" / "Gtc" / "Alo"
}

type OrderType struct {
	Limit *OrderTypeLimit `json:"limit,omitempty"`
}

type OrderWire struct {
	Asset      int       `json:"a"` // 币种在universe中的下标
	IsBuy      bool      `json:"b"`
	Price      string    `json:"p"`
	Size       string    `json:"s"`
	ReduceOnly bool      `json:"r"`
	Type       OrderType `json:"t"`
	Cloid      string    `json:"c,omitempty"` // 客户端订单id
}

type OrderAction struct {
	Type     string      `json:"type"` // "order"
	Orders   []OrderWire `json:"orders"`
	Grouping string      `json:"grouping"` // "na"
}

type CancelWire struct {
	Asset int   `json:"a"`
	Oid   int64 `json:"o"`
}

type CancelAction struct {
	Type    string       `json:"type"` // "cancel"
	Cancels []CancelWire `json:"cancels"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type ExchangeRequest struct {
	Action       interface{} `json:"action"`
	Nonce        int64       `json:"nonce"`
	Signature    Signature   `json:"signature"`
	VaultAddress string      `json:"vaultAddress,omitempty"`
}

// RestingStatus 订单进入订单簿等待成交
type RestingStatus struct {
	Oid int64 `json:"oid"`
}

// FilledStatus 订单立刻成交
type FilledStatus struct {
	Oid     int64  `json:"oid"`
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
}

// OrderStatus 三选一：filled / resting / error
type OrderStatus struct {
	Filled  *FilledStatus  `json:"filled,omitempty"`
	Resting *RestingStatus `json:"resting,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type OrderResponseData struct {
	Statuses []OrderStatus `json:"statuses"`
}

type OrderResponseInner struct {
	Type string            `json:"type"`
	Data OrderResponseData `json:"data"`
}

type ExchangeResponse struct {
	Status   string             `json:"status"` // "ok" 或 "err"
	Response OrderResponseInner `json:"response"`
	Error    string             `json:"error,omitempty"`
}
