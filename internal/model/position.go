package model

import (
	"strconv"

	"copyflow/pkg/hype/types"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position 单个永续合约仓位，每次轮询重新拉取，不落地
type Position struct {
	Coin             string  `json:"coin"`
	Side             Side    `json:"side"`
	Size             float64 `json:"size"` // 绝对值
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	NotionalValue    float64 `json:"notional_value"` // size × markPrice
	Leverage         int     `json:"leverage"`
	MarginUsed       float64 `json:"margin_used"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// Balance 账户余额快照
type Balance struct {
	AccountValue float64 `json:"account_value"`
	Withdrawable float64 `json:"withdrawable"`
	MarginUsed   float64 `json:"margin_used"`
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// BalanceFromMarginData 从clearinghouseState提取余额
func BalanceFromMarginData(md types.MarginData) Balance {
	return Balance{
		AccountValue: parseFloat(md.MarginSummary.AccountValue),
		Withdrawable: parseFloat(md.Withdrawable),
		MarginUsed:   parseFloat(md.MarginSummary.TotalMarginUsed),
	}
}

// PositionsFromMarginData 把交易所的字符串字段转换成内部模型。
// markPrice没有单独字段，由 positionValue/|szi| 还原
func PositionsFromMarginData(md types.MarginData) []Position {
	positions := make([]Position, 0, len(md.AssetPositions))
	for _, ap := range md.AssetPositions {
		p := ap.Position
		szi := parseFloat(p.Szi)
		if szi == 0 {
			continue
		}

		side := SideLong
		size := szi
		if szi < 0 {
			side = SideShort
			size = -szi
		}

		notional := parseFloat(p.PositionValue)
		markPx := 0.0
		if size > 0 {
			markPx = notional / size
		}

		positions = append(positions, Position{
			Coin:             p.Coin,
			Side:             side,
			Size:             size,
			EntryPrice:       parseFloat(p.EntryPx),
			MarkPrice:        markPx,
			UnrealizedPnl:    parseFloat(p.UnrealizedPnl),
			NotionalValue:    notional,
			Leverage:         p.Leverage.Value,
			MarginUsed:       parseFloat(p.MarginUsed),
			LiquidationPrice: parseFloat(p.LiquidationPx),
		})
	}
	return positions
}

// FindPosition 按币种查找，找不到返回nil
func FindPosition(positions []Position, coin string) *Position {
	for i := range positions {
		if positions[i].Coin == coin {
			return &positions[i]
		}
	}
	return nil
}
