package drift

import (
	"math"
	"time"

	"copyflow/internal/model"
)

// 小于该名义价值的被跟踪仓位视为灰尘，不参与对比，避免追噪声
const DustNotional = 10.0

// Detect 对比被跟踪钱包与用户的仓位，输出偏差报告。
// 纯函数，不做任何I/O，相同输入（时间戳除外）输出相同
func Detect(
	tracked []model.Position,
	user []model.Position,
	trackedBalance model.Balance,
	userBalance model.Balance,
	thresholdPct float64,
) model.DriftReport {
	report := model.DriftReport{Timestamp: time.Now()}

	for i := range tracked {
		tp := &tracked[i]
		if tp.NotionalValue < DustNotional {
			continue
		}

		targetSize := scaledTargetSize(tp, trackedBalance, userBalance)
		trackedPct := allocationPct(tp.NotionalValue, trackedBalance.AccountValue)

		up := model.FindPosition(user, tp.Coin)
		if up == nil {
			// 用户缺少该仓位
			report.Drifts = append(report.Drifts, model.PositionDrift{
				Coin:             tp.Coin,
				Tracked:          tp,
				Type:             model.DriftMissing,
				IsFavorable:      entryFavorable(tp),
				ScaledTargetSize: targetSize,
				SizeDiffPercent:  trackedPct,
			})
			continue
		}

		if up.Side != tp.Side {
			// 方向相反，先平后开
			report.Drifts = append(report.Drifts, model.PositionDrift{
				Coin:             tp.Coin,
				Tracked:          tp,
				User:             up,
				Type:             model.DriftSideMismatch,
				IsFavorable:      entryFavorable(tp),
				ScaledTargetSize: targetSize,
				SizeDiffPercent:  trackedPct,
			})
			continue
		}

		// 同方向，比较仓位占比
		userPct := allocationPct(up.NotionalValue, userBalance.AccountValue)
		diff := math.Abs(trackedPct - userPct)
		if diff <= thresholdPct {
			continue
		}

		favorable := false
		if userPct < trackedPct {
			// 加仓视同入场
			favorable = entryFavorable(tp)
		} else {
			// 减仓只在用户自己的仓位盈利时动手，不在亏损中割肉
			favorable = up.UnrealizedPnl > 0
		}

		report.Drifts = append(report.Drifts, model.PositionDrift{
			Coin:             tp.Coin,
			Tracked:          tp,
			User:             up,
			Type:             model.DriftSizeMismatch,
			IsFavorable:      favorable,
			ScaledTargetSize: targetSize,
			SizeDiffPercent:  diff,
		})
	}

	// 用户持有而被跟踪方没有的孤儿仓位，随时可平
	for i := range user {
		up := &user[i]
		if model.FindPosition(tracked, up.Coin) != nil {
			continue
		}
		report.Drifts = append(report.Drifts, model.PositionDrift{
			Coin:            up.Coin,
			User:            up,
			Type:            model.DriftExtra,
			IsFavorable:     true,
			SizeDiffPercent: allocationPct(up.NotionalValue, userBalance.AccountValue),
		})
	}

	report.HasDrift = len(report.Drifts) > 0
	return report
}

// 现在入场是否不差于被跟踪方自己的入场价
func entryFavorable(p *model.Position) bool {
	if p.Side == model.SideLong {
		return p.MarkPrice <= p.EntryPrice
	}
	return p.MarkPrice >= p.EntryPrice
}

// scaledTargetSize = (trackedNotional/trackedBalance) × userBalance / markPrice
func scaledTargetSize(tp *model.Position, trackedBalance, userBalance model.Balance) float64 {
	if trackedBalance.AccountValue <= 0 || tp.MarkPrice <= 0 {
		return 0
	}
	return tp.NotionalValue / trackedBalance.AccountValue * userBalance.AccountValue / tp.MarkPrice
}

func allocationPct(notional, balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	return notional / balance * 100
}
