package gateway

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"

	"copyflow/internal/metadata"
	"copyflow/internal/model"
	"copyflow/pkg/hype/types"
)

type fakeMeta struct {
	metas map[string]metadata.CoinMeta
	tick  float64
}

func (f fakeMeta) Meta(coin string) (metadata.CoinMeta, bool) {
	m, ok := f.metas[coin]
	return m, ok
}

func (f fakeMeta) TickSize(ctx context.Context, coin string) (float64, error) {
	return f.tick, nil
}

type fakePrices struct{ mids map[string]float64 }

func (f fakePrices) AllMids(ctx context.Context) (map[string]float64, error) {
	return f.mids, nil
}

// fakePlacer 按脚本回应每次下单
type fakePlacer struct {
	responses []types.OrderStatus
	placed    []types.OrderWire
	cancelled []types.CancelWire
	netErr    error
}

func (f *fakePlacer) PlaceOrders(ctx context.Context, orders []types.OrderWire) (*types.ExchangeResponse, error) {
	if f.netErr != nil {
		return nil, f.netErr
	}
	f.placed = append(f.placed, orders...)
	st := f.responses[len(f.placed)-1]
	return &types.ExchangeResponse{
		Status:   "ok",
		Response: types.OrderResponseInner{Data: types.OrderResponseData{Statuses: []types.OrderStatus{st}}},
	}, nil
}

func (f *fakePlacer) CancelOrders(ctx context.Context, cancels []types.CancelWire) (*types.ExchangeResponse, error) {
	if f.netErr != nil {
		return nil, f.netErr
	}
	f.cancelled = append(f.cancelled, cancels...)
	return &types.ExchangeResponse{Status: "ok"}, nil
}

func newTestExecutor(placer *fakePlacer, minValue float64) *Executor {
	meta := fakeMeta{
		metas: map[string]metadata.CoinMeta{"BTC": {Index: 0, SzDecimals: 3}},
		tick:  0.5,
	}
	prices := fakePrices{mids: map[string]float64{"BTC": 100.0}}
	slip := SlippageConfig{BasePct: 0.05, IncrementPct: 0.05, MaxPct: 0.5}
	return NewExecutor("acct1", meta, prices, placer, slip, minValue)
}

func filled(oid int64) types.OrderStatus {
	return types.OrderStatus{Filled: &types.FilledStatus{Oid: oid, TotalSz: "1.000", AvgPx: "100.0"}}
}

func TestPlaceOrder_UnknownCoin(t *testing.T) {
	placer := &fakePlacer{responses: []types.OrderStatus{filled(1)}}
	e := newTestExecutor(placer, 0)

	_, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "NOPE", IsBuy: true, Size: 1})
	if err == nil || !strings.Contains(err.Error(), "unknown coin") {
		t.Fatalf("期望unknown coin错误，实际 %v", err)
	}
	if len(placer.placed) != 0 {
		t.Errorf("本地校验失败不应有网络调用")
	}
}

func TestPlaceOrder_SizeQuantization(t *testing.T) {
	placer := &fakePlacer{responses: []types.OrderStatus{filled(1)}}
	e := newTestExecutor(placer, 0)

	_, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "BTC", IsBuy: true, Size: 1.23456})
	if err != nil {
		t.Fatal(err)
	}
	got := placer.placed[0].Size
	if got != "1.235" {
		t.Errorf("数量应量化到3位小数，实际 %q", got)
	}
	// 重解析误差小于一个步长
	v, _ := strconv.ParseFloat(got, 64)
	if math.Abs(v-1.23456) >= 0.001 {
		t.Errorf("量化误差超过一个步长: %v", v)
	}
}

func TestPlaceOrder_MinNotionalUpsize(t *testing.T) {
	placer := &fakePlacer{responses: []types.OrderStatus{filled(1)}}
	e := newTestExecutor(placer, 15) // 最小15，mid=100

	_, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "BTC", IsBuy: true, Size: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := strconv.ParseFloat(placer.placed[0].Size, 64)
	if v*100 < 15 {
		t.Errorf("名义价值 %v 仍低于最小值", v*100)
	}
	// 不应明显超过所需数量
	if v > 0.151 {
		t.Errorf("上调过头: %v", v)
	}
}

func TestPlaceOrder_SlippageEscalationAndDirection(t *testing.T) {
	noMatch := types.OrderStatus{Error: "Order could not immediately match against any resting orders."}
	placer := &fakePlacer{responses: []types.OrderStatus{noMatch, noMatch, filled(7)}}
	e := newTestExecutor(placer, 0)

	res, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "BTC", IsBuy: true, Size: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 3 {
		t.Errorf("期望第3次成交，实际attempts=%d", res.Attempts)
	}

	// 买单价格应逐次抬高
	var prices []float64
	for _, o := range placer.placed {
		p, _ := strconv.ParseFloat(o.Price, 64)
		prices = append(prices, p)
		if !o.IsBuy {
			t.Errorf("方向应为买")
		}
	}
	if !(prices[0] <= prices[1] && prices[1] <= prices[2]) {
		t.Errorf("滑点应单调升档: %v", prices)
	}
	if prices[0] < 100 {
		t.Errorf("买单参考价应向上偏移: %v", prices[0])
	}
}

func TestPlaceOrder_FatalErrorNoRetry(t *testing.T) {
	fatal := types.OrderStatus{Error: "Insufficient margin to place order."}
	placer := &fakePlacer{responses: []types.OrderStatus{fatal, filled(1), filled(2), filled(3)}}
	e := newTestExecutor(placer, 0)

	_, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "BTC", IsBuy: true, Size: 1})
	if err == nil || !strings.Contains(err.Error(), "Insufficient margin") {
		t.Fatalf("应透传交易所错误文案，实际 %v", err)
	}
	if len(placer.placed) != 1 {
		t.Errorf("致命错误不应重试，实际下了%d单", len(placer.placed))
	}
}

func TestPlaceOrder_FallbackAfterRetries(t *testing.T) {
	noMatch := types.OrderStatus{Error: "Order could not immediately match against any resting orders."}
	placer := &fakePlacer{responses: []types.OrderStatus{noMatch, noMatch, noMatch, filled(9)}}
	e := newTestExecutor(placer, 0)

	res, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "BTC", IsBuy: false, Size: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != maxAttempts+1 {
		t.Errorf("期望兜底单成交，attempts=%d", res.Attempts)
	}
	last := placer.placed[3]
	if last.Type.Limit == nil || last.Type.Limit.Tif != "Gtc" {
		t.Errorf("兜底单时效应为Gtc: %+v", last.Type)
	}
	// 卖单兜底价 = 100*(1-0.5%)，量化到0.5
	p, _ := strconv.ParseFloat(last.Price, 64)
	if p != 99.5 {
		t.Errorf("兜底价应为99.5，实际 %v", p)
	}
}

func TestPlaceOrder_ReduceOnlyUsesGtc(t *testing.T) {
	placer := &fakePlacer{responses: []types.OrderStatus{filled(1)}}
	e := newTestExecutor(placer, 0)

	_, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "BTC", IsBuy: false, Size: 1, ReduceOnly: true, ExecType: model.OrderExecMarket})
	if err != nil {
		t.Fatal(err)
	}
	o := placer.placed[0]
	if !o.ReduceOnly || o.Type.Limit.Tif != "Gtc" {
		t.Errorf("reduce-only应为可短暂挂簿的Gtc: %+v", o)
	}
}

func TestPlaceOrder_RestingReportsNoFill(t *testing.T) {
	resting := types.OrderStatus{Resting: &types.RestingStatus{Oid: 11}}
	placer := &fakePlacer{responses: []types.OrderStatus{resting}}
	e := newTestExecutor(placer, 0)

	res, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "BTC", IsBuy: false, Size: 1, ReduceOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	// 挂簿未成交，不能报成已执行
	if !res.Resting || res.Oid != 11 {
		t.Fatalf("应返回挂簿结果，实际 %+v", res)
	}
	if res.FilledSize != 0 || res.AvgPrice != 0 {
		t.Errorf("挂簿订单成交量和均价都应为0，实际 %+v", res)
	}
}

func TestParseFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"100.5", 100.5},
		{"-0.003", -0.003},
		{"", 0},
		{"abc", 0},
		{"1.5x", 0}, // 带尾随垃圾的串整体拒绝
	}
	for _, c := range cases {
		if got := parseFloat(c.in); got != c.want {
			t.Errorf("parseFloat(%q)=%v，期望%v", c.in, got, c.want)
		}
	}
}

func TestCancelOrder(t *testing.T) {
	placer := &fakePlacer{}
	e := newTestExecutor(placer, 0)

	if err := e.CancelOrder(context.Background(), "NOPE", 7); err == nil {
		t.Error("未知币种应报错")
	}
	if err := e.CancelOrder(context.Background(), "BTC", 7); err != nil {
		t.Fatal(err)
	}
	if len(placer.cancelled) != 1 || placer.cancelled[0].Oid != 7 || placer.cancelled[0].Asset != 0 {
		t.Errorf("撤单参数不对: %+v", placer.cancelled)
	}
}

func TestPlaceOrder_NetworkError(t *testing.T) {
	placer := &fakePlacer{netErr: errors.New("dial tcp: connection refused")}
	e := newTestExecutor(placer, 0)

	_, err := e.PlaceOrder(context.Background(), OrderRequest{Coin: "BTC", IsBuy: true, Size: 1})
	if err == nil {
		t.Fatal("网络错误应向上返回")
	}
}
