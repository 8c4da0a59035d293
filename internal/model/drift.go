package model

import "time"

type DriftType string

const (
	// 被跟踪仓位存在而用户没有
	DriftMissing DriftType = "missing"
	// 用户有孤儿仓位，被跟踪方没有
	DriftExtra DriftType = "extra"
	// 方向相反
	DriftSideMismatch DriftType = "side_mismatch"
	// 同方向但仓位占比偏差超阈值
	DriftSizeMismatch DriftType = "size_mismatch"
)

// PositionDrift 单个币种的仓位偏差
type PositionDrift struct {
	Coin    string    `json:"coin"`
	Tracked *Position `json:"tracked_position,omitempty"`
	User    *Position `json:"user_position,omitempty"`
	Type    DriftType `json:"drift_type"`
	// 现在处理这个偏差，入场价不差于被跟踪方自己的入场，
	// 或只是在盈利中减仓
	IsFavorable bool `json:"is_favorable"`
	// (trackedNotional/trackedBalance) × userBalance / markPrice
	ScaledTargetSize float64 `json:"scaled_target_size"`
	SizeDiffPercent  float64 `json:"size_diff_percent"`
}

// IsEntry 入场型偏差：missing/side_mismatch/加仓方向的size_mismatch
func (d PositionDrift) IsEntry() bool {
	switch d.Type {
	case DriftMissing, DriftSideMismatch:
		return true
	case DriftSizeMismatch:
		return d.User != nil && d.ScaledTargetSize > d.User.Size
	}
	return false
}

// DriftReport 一次检测的全部偏差，轮询即算即弃
type DriftReport struct {
	Drifts    []PositionDrift `json:"drifts"`
	HasDrift  bool            `json:"has_drift"`
	Timestamp time.Time       `json:"timestamp"`
}
