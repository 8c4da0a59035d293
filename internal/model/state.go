package model

import "time"

type OrderExecType string

const (
	OrderExecMarket OrderExecType = "market" // IOC可成交限价，模拟市价
	OrderExecLimit  OrderExecType = "limit"  // GTC
)

// 动态止盈的哨兵值
const TakeProfitDynamic = -1.0

// AccountState 单个账户的交易状态，进程生命周期内常驻，
// 每次变更立即持久化。归属权在该账户的Syncer，其他组件只读
type AccountState struct {
	Account       string `json:"account"`
	TradingPaused bool   `json:"trading_paused"`

	// coin → 恢复时间，到点即视为不存在（读取时惰性判断，无后台清理）
	PausedSymbols map[string]time.Time `json:"paused_symbols"`

	// coin → 亏损阈值%。操作者手动平仓后设置，
	// 被跟踪仓位亏损达到阈值才解除
	DrawdownPausedSymbols map[string]float64 `json:"drawdown_paused_symbols"`

	// 0=关闭，-1=动态追踪，N=盈利达到账户价值N%即平仓
	TakeProfitThreshold float64 `json:"take_profit_threshold"`

	// coin → 历史峰值盈利%（相对账户价值），动态止盈用
	PositionPeaks map[string]float64 `json:"position_peaks"`

	// 所有目标仓位统一缩放
	PositionSizeMultiplier float64 `json:"position_size_multiplier"`

	OrderType OrderExecType `json:"order_type"`
}

// NewAccountState 默认状态
func NewAccountState(account string) *AccountState {
	return &AccountState{
		Account:                account,
		PausedSymbols:          make(map[string]time.Time),
		DrawdownPausedSymbols:  make(map[string]float64),
		PositionPeaks:          make(map[string]float64),
		PositionSizeMultiplier: 1,
		OrderType:              OrderExecMarket,
	}
}

// EnsureMaps 反序列化后map可能为nil，统一补齐
func (s *AccountState) EnsureMaps() {
	if s.PausedSymbols == nil {
		s.PausedSymbols = make(map[string]time.Time)
	}
	if s.DrawdownPausedSymbols == nil {
		s.DrawdownPausedSymbols = make(map[string]float64)
	}
	if s.PositionPeaks == nil {
		s.PositionPeaks = make(map[string]float64)
	}
	if s.PositionSizeMultiplier == 0 {
		s.PositionSizeMultiplier = 1
	}
	if s.OrderType == "" {
		s.OrderType = OrderExecMarket
	}
}
