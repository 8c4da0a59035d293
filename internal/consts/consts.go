package consts

const (
	// redis key 前缀
	TickSizeKey = "Copyflow_Tick_Size:1"

	// 交易记录的来源标签
	SourceDriftSync  = "drift_sync"
	SourceTakeProfit = "take_profit"
)
