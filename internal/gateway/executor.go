package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"copyflow/internal/metadata"
	"copyflow/internal/model"
	"copyflow/pkg/hype/types"
	"copyflow/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// 滑点升档的重试次数
const maxAttempts = 3

// 交易所"无法立即成交"的拒单文案，允许升档重试
const noMatchError = "could not immediately match"

// OrderRequest 一次下单请求，数量是币本位
type OrderRequest struct {
	Coin       string
	IsBuy      bool
	Size       float64
	ReduceOnly bool
	ExecType   model.OrderExecType
}

// OrderResult 下单结果
type OrderResult struct {
	Oid        int64
	AvgPrice   float64
	FilledSize float64
	Resting    bool
	Attempts   int
}

// OrderPlacer 下单端点，由 pkg/hype/exchange.Client 实现
type OrderPlacer interface {
	PlaceOrders(ctx context.Context, orders []types.OrderWire) (*types.ExchangeResponse, error)
	CancelOrders(ctx context.Context, cancels []types.CancelWire) (*types.ExchangeResponse, error)
}

// PriceSource 参考价来源
type PriceSource interface {
	AllMids(ctx context.Context) (map[string]float64, error)
}

// MarketMeta 币种约束查询，由 metadata.Cache 实现
type MarketMeta interface {
	Meta(coin string) (metadata.CoinMeta, bool)
	TickSize(ctx context.Context, coin string) (float64, error)
}

// SlippageConfig 滑点升档参数，百分比
type SlippageConfig struct {
	BasePct      float64
	IncrementPct float64
	MaxPct       float64
}

// Executor 订单执行引擎，一个账户一个实例。
// 负责量化、最小名义价值、滑点升档重试和最终兜底单
type Executor struct {
	account       string
	meta          MarketMeta
	prices        PriceSource
	client        OrderPlacer
	slippage      SlippageConfig
	minOrderValue float64
}

func NewExecutor(account string, meta MarketMeta, prices PriceSource, client OrderPlacer, slippage SlippageConfig, minOrderValue float64) *Executor {
	return &Executor{
		account:       account,
		meta:          meta,
		prices:        prices,
		client:        client,
		slippage:      slippage,
		minOrderValue: minOrderValue,
	}
}

// PlaceOrder 执行一次下单。任何网络调用之前先做本地校验：
// 未知币种或未初始化的客户端直接报错
func (e *Executor) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if e.client == nil {
		return nil, fmt.Errorf("account %s: exchange client not initialized", e.account)
	}
	coinMeta, ok := e.meta.Meta(req.Coin)
	if !ok {
		return nil, fmt.Errorf("unknown coin %s", req.Coin)
	}
	if req.Size <= 0 {
		return nil, fmt.Errorf("invalid order size %v for %s", req.Size, req.Coin)
	}

	tick, err := e.meta.TickSize(ctx, req.Coin)
	if err != nil {
		return nil, err
	}

	mids, err := e.prices.AllMids(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch reference price: %w", err)
	}
	refPrice, ok := mids[req.Coin]
	if !ok || refPrice <= 0 {
		return nil, fmt.Errorf("no reference price for %s", req.Coin)
	}

	size := QuantizeSize(req.Size, coinMeta.SzDecimals)
	size = e.enforceMinNotional(size, refPrice, coinMeta.SzDecimals)
	if size <= 0 {
		return nil, fmt.Errorf("quantized size for %s is zero", req.Coin)
	}

	// 常规时效：市价模拟用IOC；reduce-only和限价允许短暂挂簿
	tif := "Ioc"
	if req.ReduceOnly || req.ExecType == model.OrderExecLimit {
		tif = "Gtc"
	}

	var attemptErrs error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slipPct := e.slippage.BasePct + float64(attempt-1)*e.slippage.IncrementPct
		if slipPct > e.slippage.MaxPct {
			slipPct = e.slippage.MaxPct
		}
		price := slippagePrice(refPrice, slipPct, req.IsBuy)

		result, err := e.submit(ctx, coinMeta, req, size, price, tick, tif)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}

		if !strings.Contains(strings.ToLower(err.Error()), noMatchError) {
			// 参数类拒单重试也不会成功，直接放弃这一单
			return nil, multierr.Append(attemptErrs, err)
		}
		attemptErrs = multierr.Append(attemptErrs, fmt.Errorf("attempt %d (slippage %.3f%%): %w", attempt, slipPct, err))
		logger.Warn("order not matched, escalating slippage",
			logger.Pair("account", e.account),
			logger.Pair("coin", req.Coin),
			logger.Pair("attempt", attempt))
	}

	// 重试耗尽：最大滑点+宽松时效兜底一次
	price := slippagePrice(refPrice, e.slippage.MaxPct, req.IsBuy)
	result, err := e.submit(ctx, coinMeta, req, size, price, tick, "Gtc")
	if err != nil {
		return nil, multierr.Append(attemptErrs, fmt.Errorf("fallback order: %w", err))
	}
	result.Attempts = maxAttempts + 1
	return result, nil
}

func (e *Executor) submit(ctx context.Context, coinMeta metadata.CoinMeta, req OrderRequest, size, price, tick float64, tif string) (*OrderResult, error) {
	quantized := QuantizePrice(price, tick)

	order := types.OrderWire{
		Asset:      coinMeta.Index,
		IsBuy:      req.IsBuy,
		Price:      FormatPrice(quantized, tick),
		Size:       FormatSize(size, coinMeta.SzDecimals),
		ReduceOnly: req.ReduceOnly,
		Type:       types.OrderType{Limit: &types.OrderTypeLimit{Tif: tif}},
		Cloid:      newCloid(),
	}

	resp, err := e.client.PlaceOrders(ctx, []types.OrderWire{order})
	if err != nil {
		return nil, err
	}
	statuses := resp.Response.Data.Statuses
	if len(statuses) == 0 {
		return nil, errors.New("exchange returned no order status")
	}

	st := statuses[0]
	switch {
	case st.Error != "":
		// 透传交易所自己的错误文案
		return nil, errors.New(st.Error)
	case st.Filled != nil:
		return &OrderResult{
			Oid:        st.Filled.Oid,
			AvgPrice:   parseFloat(st.Filled.AvgPx),
			FilledSize: parseFloat(st.Filled.TotalSz),
		}, nil
	case st.Resting != nil:
		// 还挂在簿上，什么都没成交，成交量和均价都是0
		return &OrderResult{Oid: st.Resting.Oid, Resting: true}, nil
	}
	return nil, errors.New("unrecognized order status")
}

// CancelOrder 撤掉某笔还挂在簿上的订单，兜底单下一轮没成交时用
func (e *Executor) CancelOrder(ctx context.Context, coin string, oid int64) error {
	if e.client == nil {
		return fmt.Errorf("account %s: exchange client not initialized", e.account)
	}
	coinMeta, ok := e.meta.Meta(coin)
	if !ok {
		return fmt.Errorf("unknown coin %s", coin)
	}
	_, err := e.client.CancelOrders(ctx, []types.CancelWire{{Asset: coinMeta.Index, Oid: oid}})
	return err
}

// enforceMinNotional 量化后的名义价值不足时，把数量上调到
// 满足最小价值的最小合规数量
func (e *Executor) enforceMinNotional(size, refPrice float64, szDecimals int) float64 {
	if e.minOrderValue <= 0 || refPrice <= 0 {
		return size
	}
	if size*refPrice >= e.minOrderValue {
		return size
	}
	return CeilSize(e.minOrderValue/refPrice, szDecimals)
}

// slippagePrice 往利于立即成交的方向偏移：买往上、卖往下
func slippagePrice(ref, slipPct float64, isBuy bool) float64 {
	if isBuy {
		return ref * (1 + slipPct/100)
	}
	return ref * (1 - slipPct/100)
}

// 32位hex的客户端订单id
func newCloid() string {
	u := uuid.New()
	return "0x" + strings.ReplaceAll(u.String(), "-", "")
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
