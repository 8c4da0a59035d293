package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"copyflow/internal/dao"
	"copyflow/internal/model"
	"copyflow/internal/model/entity"
	"copyflow/pkg/logger"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

// 动态止盈：低于该盈利不追踪峰值
const dynamicMinProfitPct = 2.0

// Manager 一个账户的交易状态。内存态为准，每次变更尽力持久化，
// 持久化失败只记日志不回滚
type Manager struct {
	mu  sync.Mutex
	dao dao.AccountStateDao
	st  *model.AccountState
}

// NewManager 从库里恢复状态，没有记录则用默认值
func NewManager(ctx context.Context, d dao.AccountStateDao, account string) *Manager {
	m := &Manager{dao: d, st: model.NewAccountState(account)}
	if d == nil {
		return m
	}

	ent, err := d.StateGetByAccount(ctx, account)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("load account state failed, starting from defaults",
				logger.Pair("account", account),
				logger.Pair("err", err.Error()))
		}
		return m
	}

	m.st = stateFromEntity(ent)
	m.st.EnsureMaps()
	return m
}

// Snapshot 返回当前状态的拷贝，给状态接口等只读方用
func (m *Manager) Snapshot() model.AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *m.st
	cp.PausedSymbols = make(map[string]time.Time, len(m.st.PausedSymbols))
	for k, v := range m.st.PausedSymbols {
		cp.PausedSymbols[k] = v
	}
	cp.DrawdownPausedSymbols = make(map[string]float64, len(m.st.DrawdownPausedSymbols))
	for k, v := range m.st.DrawdownPausedSymbols {
		cp.DrawdownPausedSymbols[k] = v
	}
	cp.PositionPeaks = make(map[string]float64, len(m.st.PositionPeaks))
	for k, v := range m.st.PositionPeaks {
		cp.PositionPeaks[k] = v
	}
	return cp
}

func (m *Manager) TradingPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.TradingPaused
}

func (m *Manager) SetTradingPaused(ctx context.Context, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.TradingPaused = paused
	m.persistLocked(ctx)
}

// PauseSymbol 暂停某币种到指定时刻，到点自动失效
func (m *Manager) PauseSymbol(ctx context.Context, coin string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.PausedSymbols[coin] = until
	m.persistLocked(ctx)
}

func (m *Manager) ResumeSymbol(ctx context.Context, coin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.PausedSymbols, coin)
	delete(m.st.DrawdownPausedSymbols, coin)
	m.persistLocked(ctx)
}

// IsSymbolPaused 惰性过期：已到恢复时间的记录当场删掉
func (m *Manager) IsSymbolPaused(ctx context.Context, coin string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	resumeAt, ok := m.st.PausedSymbols[coin]
	if !ok {
		return false
	}
	if now.Before(resumeAt) {
		return true
	}
	delete(m.st.PausedSymbols, coin)
	m.persistLocked(ctx)
	return false
}

// SetDrawdownPause 操作者手动平仓后挂上回撤门：被跟踪仓位
// 亏损达到thresholdPct%之前不再跟进该币种
func (m *Manager) SetDrawdownPause(ctx context.Context, coin string, thresholdPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.DrawdownPausedSymbols[coin] = thresholdPct
	m.persistLocked(ctx)
}

// DrawdownPauseThreshold 查询币种的回撤门，第二个返回值表示是否存在
func (m *Manager) DrawdownPauseThreshold(coin string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.st.DrawdownPausedSymbols[coin]
	return th, ok
}

// ClearDrawdownPause 亏损条件满足时由同步循环调用
func (m *Manager) ClearDrawdownPause(ctx context.Context, coin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.DrawdownPausedSymbols[coin]; !ok {
		return
	}
	delete(m.st.DrawdownPausedSymbols, coin)
	logger.Info("drawdown pause cleared",
		logger.Pair("account", m.st.Account),
		logger.Pair("coin", coin))
	m.persistLocked(ctx)
}

func (m *Manager) SetTakeProfitThreshold(ctx context.Context, threshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.TakeProfitThreshold = threshold
	if threshold == 0 {
		m.st.PositionPeaks = make(map[string]float64)
	}
	m.persistLocked(ctx)
}

func (m *Manager) SetPositionSizeMultiplier(ctx context.Context, mult float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mult <= 0 {
		mult = 1
	}
	m.st.PositionSizeMultiplier = mult
	m.persistLocked(ctx)
}

func (m *Manager) PositionSizeMultiplier() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.PositionSizeMultiplier
}

func (m *Manager) SetOrderType(ctx context.Context, t model.OrderExecType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.OrderType = t
	m.persistLocked(ctx)
}

func (m *Manager) OrderType() model.OrderExecType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.OrderType
}

// EvaluateTakeProfit 按当前仓位评估止盈，返回应平仓的币种。
// profitPct按账户价值计算。峰值随评估更新并持久化
func (m *Manager) EvaluateTakeProfit(ctx context.Context, positions []model.Position, accountValue float64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.TakeProfitThreshold == 0 || accountValue <= 0 {
		return nil
	}

	var toClose []string
	changed := false

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Coin] = true
		profitPct := p.UnrealizedPnl / accountValue * 100

		if m.st.TakeProfitThreshold > 0 {
			if profitPct >= m.st.TakeProfitThreshold {
				toClose = append(toClose, p.Coin)
			}
			continue
		}

		// 动态追踪
		if profitPct < dynamicMinProfitPct {
			if _, ok := m.st.PositionPeaks[p.Coin]; ok {
				delete(m.st.PositionPeaks, p.Coin)
				changed = true
			}
			continue
		}

		peak := m.st.PositionPeaks[p.Coin]
		if profitPct > peak {
			peak = profitPct
			m.st.PositionPeaks[p.Coin] = peak
			changed = true
		}

		retracement := (peak - profitPct) / peak
		if retracement >= allowedRetracement(peak) && profitPct > 0 {
			toClose = append(toClose, p.Coin)
		}
	}

	// 仓位没了就清峰值
	for coin := range m.st.PositionPeaks {
		if !held[coin] {
			delete(m.st.PositionPeaks, coin)
			changed = true
		}
	}
	for _, coin := range toClose {
		if _, ok := m.st.PositionPeaks[coin]; ok {
			delete(m.st.PositionPeaks, coin)
			changed = true
		}
	}

	if changed {
		m.persistLocked(ctx)
	}
	return toClose
}

// allowedRetracement 峰值越高容忍的回撤越小
func allowedRetracement(peakPct float64) float64 {
	switch {
	case peakPct < 3:
		return 0.40
	case peakPct < 5:
		return 0.30
	default:
		return 0.20
	}
}

func (m *Manager) persistLocked(ctx context.Context) {
	if m.dao == nil {
		return
	}
	if err := m.dao.StateUpsert(ctx, entityFromState(m.st)); err != nil {
		logger.Error("persist account state failed, in-memory state kept",
			logger.Pair("account", m.st.Account),
			logger.Pair("err", err.Error()))
	}
}

func entityFromState(st *model.AccountState) *entity.AccountState {
	paused, _ := json.Marshal(st.PausedSymbols)
	drawdown, _ := json.Marshal(st.DrawdownPausedSymbols)
	peaks, _ := json.Marshal(st.PositionPeaks)

	return &entity.AccountState{
		Account:                st.Account,
		TradingPaused:          st.TradingPaused,
		PausedSymbols:          paused,
		DrawdownPausedSymbols:  drawdown,
		PositionPeaks:          peaks,
		TakeProfitThreshold:    st.TakeProfitThreshold,
		PositionSizeMultiplier: st.PositionSizeMultiplier,
		OrderType:              string(st.OrderType),
	}
}

func stateFromEntity(ent *entity.AccountState) *model.AccountState {
	st := model.NewAccountState(ent.Account)
	st.TradingPaused = ent.TradingPaused
	st.TakeProfitThreshold = ent.TakeProfitThreshold
	st.PositionSizeMultiplier = ent.PositionSizeMultiplier
	st.OrderType = model.OrderExecType(ent.OrderType)

	if len(ent.PausedSymbols) > 0 {
		_ = json.Unmarshal(ent.PausedSymbols, &st.PausedSymbols)
	}
	if len(ent.DrawdownPausedSymbols) > 0 {
		_ = json.Unmarshal(ent.DrawdownPausedSymbols, &st.DrawdownPausedSymbols)
	}
	if len(ent.PositionPeaks) > 0 {
		_ = json.Unmarshal(ent.PositionPeaks, &st.PositionPeaks)
	}
	return st
}
