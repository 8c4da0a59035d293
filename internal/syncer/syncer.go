package syncer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"copyflow/conf"
	"copyflow/internal/consts"
	"copyflow/internal/drift"
	"copyflow/internal/gateway"
	"copyflow/internal/model"
	"copyflow/internal/state"
	"copyflow/pkg/hype/types"
	"copyflow/pkg/logger"
	"copyflow/pkg/recorder"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// 同一账户的漂移告警最多一小时一次
const driftAlertCooldown = time.Hour

// AccountReader 仓位与余额查询，由 pkg/hype/rest 实现
type AccountReader interface {
	PerpetualsAccountSummary(ctx context.Context, user string) (types.MarginData, error)
}

// OrderExecutor 下单入口，由 internal/gateway 实现
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResult, error)
	CancelOrder(ctx context.Context, coin string, oid int64) error
}

// DriftNotifier 漂移告警出口
type DriftNotifier interface {
	DriftDetected(ctx context.Context, account string, coins []string)
}

// Syncer 单个账户的同步循环：拉取 → 检测 → 状态过滤 → 顺序执行。
// 一个账户一个实例，互相独立
type Syncer struct {
	cfg      conf.AccountConfig
	interval time.Duration

	reader   AccountReader
	executor OrderExecutor
	state    *state.Manager
	notifier DriftNotifier

	trades    recorder.Recorder
	snapshots recorder.Recorder

	// 本轮未结束则跳过下一轮，绝不让同一账户并发执行两个周期
	inCycle        atomic.Bool
	lastDriftAlert time.Time

	// 上一轮留在簿上的订单（GTC兜底单等），下一轮开头先撤掉
	restingOrders []restingOrder
}

type restingOrder struct {
	coin string
	oid  int64
}

func New(
	cfg conf.AccountConfig,
	interval time.Duration,
	reader AccountReader,
	executor OrderExecutor,
	st *state.Manager,
	notifier DriftNotifier,
	trades recorder.Recorder,
	snapshots recorder.Recorder,
) *Syncer {
	return &Syncer{
		cfg:       cfg,
		interval:  interval,
		reader:    reader,
		executor:  executor,
		state:     st,
		notifier:  notifier,
		trades:    trades,
		snapshots: snapshots,
	}
}

// Run 阻塞运行同步循环直到ctx取消。
// 取消只是不再开启新周期，进行中的下单走不可取消的派生ctx收尾
func (s *Syncer) Run(ctx context.Context) {
	logger.Info("syncer started",
		logger.Pair("account", s.cfg.Name),
		logger.Pair("interval", s.interval.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SyncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("syncer stopped", logger.Pair("account", s.cfg.Name))
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce 执行一个完整同步周期。上一轮还没结束就直接跳过，
// 宁可慢一拍也不并发
func (s *Syncer) SyncOnce(ctx context.Context) {
	if !s.inCycle.CompareAndSwap(false, true) {
		logger.Warn("previous sync cycle still running, skipping",
			logger.Pair("account", s.cfg.Name))
		return
	}
	defer s.inCycle.Store(false)

	if err := s.syncCycle(ctx); err != nil {
		logger.Error("sync cycle aborted",
			logger.Pair("account", s.cfg.Name),
			logger.Pair("err", err.Error()))
	}
}

func (s *Syncer) syncCycle(ctx context.Context) error {
	// 上一轮的兜底单还挂着就先撤，别让陈旧挂单和本轮订单互相打架
	s.cancelLeftovers(ctx)

	// 两边余额仓位并发拉取，任一失败整轮作废，不做半套状态变更
	var trackedData, userData types.MarginData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trackedData, err = s.reader.PerpetualsAccountSummary(gctx, s.cfg.TrackedAddress)
		return err
	})
	g.Go(func() error {
		var err error
		userData, err = s.reader.PerpetualsAccountSummary(gctx, s.cfg.UserAddress)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch account summaries: %w", err)
	}

	trackedBalance := model.BalanceFromMarginData(trackedData)
	userBalance := model.BalanceFromMarginData(userData)
	tracked := model.PositionsFromMarginData(trackedData)
	user := model.PositionsFromMarginData(userData)

	balanceRatio := 0.0
	if trackedBalance.AccountValue > 0 {
		balanceRatio = userBalance.AccountValue / trackedBalance.AccountValue
	}

	// 回撤门：被跟踪仓位亏到位了就自动解除
	s.clearSatisfiedDrawdowns(ctx, tracked, trackedBalance)

	// 止盈先于漂移执行，平掉的币种本轮不再碰
	tpClosed := s.runTakeProfit(ctx, user, userBalance)

	report := drift.Detect(tracked, user, trackedBalance, userBalance, s.cfg.DriftThresholdPct)
	if report.HasDrift {
		s.maybeAlertDrift(ctx, report)
	}

	s.executeDrifts(ctx, report, tpClosed, userBalance)

	s.record(s.snapshots, model.SnapshotRecord{
		Account:          s.cfg.Name,
		TrackedBalance:   trackedBalance,
		TrackedPositions: tracked,
		UserBalance:      userBalance,
		UserPositions:    user,
		BalanceRatio:     balanceRatio,
		Timestamp:        time.Now(),
	})
	return nil
}

// cancelLeftovers 撤掉上一轮遗留的挂单。撤单失败多半是已经成交或
// 已被撤，记日志即可，不影响本轮
func (s *Syncer) cancelLeftovers(ctx context.Context) {
	if len(s.restingOrders) == 0 {
		return
	}
	for _, r := range s.restingOrders {
		if err := s.executor.CancelOrder(s.orderCtx(ctx), r.coin, r.oid); err != nil {
			logger.Warn("cancel resting order failed",
				logger.Pair("account", s.cfg.Name),
				logger.Pair("coin", r.coin),
				logger.Pair("oid", r.oid),
				logger.Pair("err", err.Error()))
		}
	}
	s.restingOrders = nil
}

func (s *Syncer) clearSatisfiedDrawdowns(ctx context.Context, tracked []model.Position, trackedBalance model.Balance) {
	if trackedBalance.AccountValue <= 0 {
		return
	}
	for _, p := range tracked {
		threshold, ok := s.state.DrawdownPauseThreshold(p.Coin)
		if !ok {
			continue
		}
		lossPct := -p.UnrealizedPnl / trackedBalance.AccountValue * 100
		if lossPct >= threshold {
			s.state.ClearDrawdownPause(ctx, p.Coin)
		}
	}
}

// runTakeProfit 评估并平掉触发止盈的仓位，返回已处理的币种集合
func (s *Syncer) runTakeProfit(ctx context.Context, user []model.Position, userBalance model.Balance) map[string]bool {
	closed := make(map[string]bool)
	if s.state.TradingPaused() {
		return closed
	}

	for _, coin := range s.state.EvaluateTakeProfit(ctx, user, userBalance.AccountValue) {
		p := model.FindPosition(user, coin)
		if p == nil {
			continue
		}
		closed[coin] = true

		start := time.Now()
		result, err := s.executor.PlaceOrder(s.orderCtx(ctx), gateway.OrderRequest{
			Coin:       coin,
			IsBuy:      p.Side == model.SideShort,
			Size:       p.Size,
			ReduceOnly: true,
			ExecType:   s.state.OrderType(),
		})
		if err != nil {
			logger.Error("take-profit close failed",
				logger.Pair("account", s.cfg.Name),
				logger.Pair("coin", coin),
				logger.Pair("err", err.Error()))
			continue
		}
		logger.Info("take-profit close",
			logger.Pair("account", s.cfg.Name),
			logger.Pair("coin", coin),
			logger.Pair("pnl", p.UnrealizedPnl))
		s.recordTrade(coin, "close", p.Side.Opposite(), result, start, p.UnrealizedPnl, consts.SourceTakeProfit)
	}
	return closed
}

// executeDrifts 按状态机过滤后逐个执行，单个失败只记日志不挡后面的
func (s *Syncer) executeDrifts(ctx context.Context, report model.DriftReport, skipCoins map[string]bool, userBalance model.Balance) {
	if s.state.TradingPaused() {
		if report.HasDrift {
			logger.Info("trading paused, drift execution skipped",
				logger.Pair("account", s.cfg.Name))
		}
		return
	}
	if userBalance.AccountValue < s.cfg.MinTradableBalance {
		if report.HasDrift {
			logger.Warn("balance below trading floor, drift execution skipped",
				logger.Pair("account", s.cfg.Name),
				logger.Pair("balance", userBalance.AccountValue))
		}
		return
	}

	now := time.Now()
	for _, d := range report.Drifts {
		if !d.IsFavorable || skipCoins[d.Coin] {
			continue
		}
		if _, paused := s.state.DrawdownPauseThreshold(d.Coin); paused {
			continue
		}
		if s.state.IsSymbolPaused(ctx, d.Coin, now) {
			continue
		}
		if !s.passesHighRiskFilter(d) {
			continue
		}

		if err := s.executeDrift(ctx, d); err != nil {
			logger.Error("drift execution failed",
				logger.Pair("account", s.cfg.Name),
				logger.Pair("coin", d.Coin),
				logger.Pair("type", string(d.Type)),
				logger.Pair("err", err.Error()))
		}
	}
}

// passesHighRiskFilter 入场型漂移的高风险过滤：只有被跟踪仓位
// 浮亏达到配置百分比才跟进，抄在对方被套的时候
func (s *Syncer) passesHighRiskFilter(d model.PositionDrift) bool {
	if s.cfg.HighRiskEntryPct <= 0 || !d.IsEntry() || d.Tracked == nil {
		return true
	}
	if d.Tracked.NotionalValue <= 0 {
		return false
	}
	lossPct := -d.Tracked.UnrealizedPnl / d.Tracked.NotionalValue * 100
	return lossPct >= s.cfg.HighRiskEntryPct
}

func (s *Syncer) executeDrift(ctx context.Context, d model.PositionDrift) error {
	mult := s.state.PositionSizeMultiplier()
	execType := s.state.OrderType()

	switch d.Type {
	case model.DriftMissing:
		return s.openPosition(ctx, d, mult, execType, "open")

	case model.DriftExtra:
		start := time.Now()
		result, err := s.executor.PlaceOrder(s.orderCtx(ctx), gateway.OrderRequest{
			Coin:       d.Coin,
			IsBuy:      d.User.Side == model.SideShort,
			Size:       d.User.Size,
			ReduceOnly: true,
			ExecType:   execType,
		})
		if err != nil {
			return err
		}
		s.recordTrade(d.Coin, "close", d.User.Side.Opposite(), result, start, d.User.UnrealizedPnl, consts.SourceDriftSync)
		return nil

	case model.DriftSideMismatch:
		// 先平反向仓再按目标开仓；平仓失败就不开，留到下一轮
		start := time.Now()
		result, err := s.executor.PlaceOrder(s.orderCtx(ctx), gateway.OrderRequest{
			Coin:       d.Coin,
			IsBuy:      d.User.Side == model.SideShort,
			Size:       d.User.Size,
			ReduceOnly: true,
			ExecType:   execType,
		})
		if err != nil {
			return fmt.Errorf("close opposite side: %w", err)
		}
		s.recordTrade(d.Coin, "close", d.User.Side.Opposite(), result, start, d.User.UnrealizedPnl, consts.SourceDriftSync)
		return s.openPosition(ctx, d, mult, execType, "open")

	case model.DriftSizeMismatch:
		target := d.ScaledTargetSize * mult
		current := d.User.Size
		start := time.Now()
		if target > current {
			result, err := s.executor.PlaceOrder(s.orderCtx(ctx), gateway.OrderRequest{
				Coin:     d.Coin,
				IsBuy:    d.User.Side == model.SideLong,
				Size:     target - current,
				ExecType: execType,
			})
			if err != nil {
				return err
			}
			s.recordTrade(d.Coin, "add", d.User.Side, result, start, 0, consts.SourceDriftSync)
			return nil
		}
		reduceBy := current - target
		result, err := s.executor.PlaceOrder(s.orderCtx(ctx), gateway.OrderRequest{
			Coin:       d.Coin,
			IsBuy:      d.User.Side == model.SideShort,
			Size:       reduceBy,
			ReduceOnly: true,
			ExecType:   execType,
		})
		if err != nil {
			return err
		}
		// 按实际成交量折算，挂簿未成交就是0
		pnlEst := 0.0
		if current > 0 {
			pnlEst = d.User.UnrealizedPnl * result.FilledSize / current
		}
		s.recordTrade(d.Coin, "reduce", d.User.Side.Opposite(), result, start, pnlEst, consts.SourceDriftSync)
		return nil
	}
	return fmt.Errorf("unknown drift type %s", d.Type)
}

func (s *Syncer) openPosition(ctx context.Context, d model.PositionDrift, mult float64, execType model.OrderExecType, action string) error {
	start := time.Now()
	result, err := s.executor.PlaceOrder(s.orderCtx(ctx), gateway.OrderRequest{
		Coin:     d.Coin,
		IsBuy:    d.Tracked.Side == model.SideLong,
		Size:     d.ScaledTargetSize * mult,
		ExecType: execType,
	})
	if err != nil {
		return err
	}
	s.recordTrade(d.Coin, action, d.Tracked.Side, result, start, 0, consts.SourceDriftSync)
	return nil
}

// maybeAlertDrift 漂移告警限流：不论多少个币种漂移，
// 一个账户一小时最多一条
func (s *Syncer) maybeAlertDrift(ctx context.Context, report model.DriftReport) {
	if s.notifier == nil || time.Since(s.lastDriftAlert) < driftAlertCooldown {
		return
	}
	s.lastDriftAlert = time.Now()

	coins := make([]string, 0, len(report.Drifts))
	for _, d := range report.Drifts {
		coins = append(coins, d.Coin)
	}
	s.notifier.DriftDetected(ctx, s.cfg.Name, coins)
}

func (s *Syncer) recordTrade(coin, action string, side model.Side, result *gateway.OrderResult, start time.Time, pnlEst float64, source string) {
	if result.Resting {
		s.restingOrders = append(s.restingOrders, restingOrder{coin: coin, oid: result.Oid})
	}
	s.record(s.trades, model.TradeRecord{
		Id:                 uuid.NewString(),
		Account:            s.cfg.Name,
		Coin:               coin,
		Action:             action,
		Side:               side,
		Size:               result.FilledSize,
		Price:              result.AvgPrice,
		Timestamp:          start,
		ExecutionLatencyMs: time.Since(start).Milliseconds(),
		RealizedPnlEst:     pnlEst,
		Source:             source,
	})
}

func (s *Syncer) record(r recorder.Recorder, v interface{}) {
	if r == nil {
		return
	}
	if err := r.Record(v); err != nil {
		logger.Errorf("write record: %v", err)
	}
}

// orderCtx 下单用的ctx：关停时让在途订单自己走完，
// 半路掐断的订单状态不可知，比慢一点关停更糟
func (s *Syncer) orderCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
