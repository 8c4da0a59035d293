package model

import "time"

// TradeRecord 每次实际下单后发给记录器的结构化交易记录
type TradeRecord struct {
	Id                 string    `json:"id"`
	Account            string    `json:"account"`
	Coin               string    `json:"coin"`
	Action             string    `json:"action"` // open/close/add/reduce
	Side               Side      `json:"side"`
	Size               float64   `json:"size"`
	Price              float64   `json:"price"`
	Timestamp          time.Time `json:"timestamp"`
	ExecutionLatencyMs int64     `json:"execution_latency_ms"`
	RealizedPnlEst     float64   `json:"realized_pnl_estimate"`
	Source             string    `json:"source"` // 触发来源，如 drift_sync / take_profit
}

// SnapshotRecord 每个同步周期结束发出的账户快照
type SnapshotRecord struct {
	Account          string     `json:"account"`
	TrackedBalance   Balance    `json:"tracked_balance"`
	TrackedPositions []Position `json:"tracked_positions"`
	UserBalance      Balance    `json:"user_balance"`
	UserPositions    []Position `json:"user_positions"`
	BalanceRatio     float64    `json:"balance_ratio"`
	Timestamp        time.Time  `json:"timestamp"`
}
