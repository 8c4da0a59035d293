package entity

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/plugin/soft_delete"
)

// 账户交易状态的持久化快照，内存态为准，这里只做进程重启恢复
type AccountState struct {
	Id      uint   `gorm:"primaryKey;column:id" json:"id"`
	Account string `gorm:"size:64;uniqueIndex;not null;column:account;comment:账户名" json:"account"`

	TradingPaused bool `gorm:"column:trading_paused" json:"trading_paused"`

	PausedSymbols         datatypes.JSON `gorm:"column:paused_symbols;type:json" json:"paused_symbols"`                   // coin→恢复时间
	DrawdownPausedSymbols datatypes.JSON `gorm:"column:drawdown_paused_symbols;type:json" json:"drawdown_paused_symbols"` // coin→亏损阈值%
	PositionPeaks         datatypes.JSON `gorm:"column:position_peaks;type:json" json:"position_peaks"`                   // coin→峰值盈利%

	TakeProfitThreshold    float64 `gorm:"column:take_profit_threshold" json:"take_profit_threshold"`
	PositionSizeMultiplier float64 `gorm:"column:position_size_multiplier;default:1" json:"position_size_multiplier"`
	OrderType              string  `gorm:"size:16;column:order_type" json:"order_type"`

	UpdatedAt time.Time             `gorm:"autoUpdateTime;column:updated_at" json:"updated_at"`
	CreatedAt time.Time             `gorm:"autoCreateTime;column:created_at" json:"created_at"`
	DeletedAt time.Time             `gorm:"column:deleted_at" json:"deleted_at"`
	IsDel     soft_delete.DeletedAt `gorm:"softDelete:flag,DeletedAtField:DeletedAt"`
}

func (AccountState) TableName() string {
	return "account_state"
}
