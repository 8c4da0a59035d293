package metadata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"copyflow/internal/consts"
	"copyflow/pkg/hype/rest"
	"copyflow/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// CoinMeta 单个币种的交易约束
type CoinMeta struct {
	Index      int // universe 下标，下单时用
	SzDecimals int // 数量精度
}

// Cache 市场元数据缓存。universe每小时整体原子换新，
// tick size 推断一次后永久缓存在redis
type Cache struct {
	rest *rest.HyperliquidRestClient
	rc   *redis.Client

	mu     sync.RWMutex
	byCoin map[string]CoinMeta

	tickMu sync.Mutex
	ticks  map[string]float64
}

func NewCache(restClient *rest.HyperliquidRestClient, rc *redis.Client) *Cache {
	return &Cache{
		rest:   restClient,
		rc:     rc,
		byCoin: make(map[string]CoinMeta),
		ticks:  make(map[string]float64),
	}
}

// Refresh 拉取universe并整体替换，读方永远看到一致的map
func (c *Cache) Refresh(ctx context.Context) error {
	universe, err := c.rest.PerpetualsMetadata(ctx)
	if err != nil {
		return fmt.Errorf("fetch perpetuals metadata: %w", err)
	}

	fresh := make(map[string]CoinMeta, len(universe.Universe))
	for i, item := range universe.Universe {
		fresh[item.Name] = CoinMeta{Index: i, SzDecimals: item.SzDecimals}
	}

	c.mu.Lock()
	c.byCoin = fresh
	c.mu.Unlock()
	return nil
}

// Start 启动定时刷新，默认1小时一次
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					logger.Errorf("metadata refresh failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Meta 查询币种元数据
func (c *Cache) Meta(coin string) (CoinMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byCoin[coin]
	return m, ok
}

// 价格档位的规范集合，tick只会取其中之一
var canonicalTicks = []float64{
	10, 5, 1, 0.5, 0.1, 0.05, 0.01, 0.005,
	0.001, 0.0005, 0.0001, 0.00005, 0.00001,
}

// TickSize 返回币种的最小报价变动单位。
// 先查内存，再查redis，都没有才从订单簿推断并永久写入redis
func (c *Cache) TickSize(ctx context.Context, coin string) (float64, error) {
	c.tickMu.Lock()
	if tick, ok := c.ticks[coin]; ok {
		c.tickMu.Unlock()
		return tick, nil
	}
	c.tickMu.Unlock()

	rdsKey := consts.TickSizeKey + ":" + coin
	if c.rc != nil {
		if val, err := c.rc.Get(ctx, rdsKey).Result(); err == nil {
			if tick, err := strconv.ParseFloat(val, 64); err == nil && tick > 0 {
				c.tickMu.Lock()
				c.ticks[coin] = tick
				c.tickMu.Unlock()
				return tick, nil
			}
		} else if err != redis.Nil {
			logger.Errorf("Redis连接异常:%v", err.Error())
		}
	}

	book, err := c.rest.L2Book(ctx, coin)
	if err != nil {
		return 0, fmt.Errorf("fetch l2 book for %s: %w", coin, err)
	}

	var prices []float64
	for _, side := range book.Levels {
		for _, lvl := range side {
			if px, err := strconv.ParseFloat(lvl.Px, 64); err == nil && px > 0 {
				prices = append(prices, px)
			}
		}
	}

	tick := inferTick(prices)
	if tick <= 0 {
		return 0, fmt.Errorf("unable to infer tick size for %s", coin)
	}

	c.tickMu.Lock()
	c.ticks[coin] = tick
	c.tickMu.Unlock()

	if c.rc != nil {
		// tick size不会变，不设过期
		if err := c.rc.Set(ctx, rdsKey, strconv.FormatFloat(tick, 'f', -1, 64), 0).Err(); err != nil {
			logger.Errorf("存储tick size失败:%v", err.Error())
		}
	}
	return tick, nil
}

// inferTick 取相邻档位间最小的一致间隔，再吸附到规范值
func inferTick(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	minGap := math.MaxFloat64
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i] - sorted[i-1]
		if gap > 1e-12 && gap < minGap {
			minGap = gap
		}
	}
	if minGap == math.MaxFloat64 {
		return 0
	}
	return snapTick(minGap)
}

// snapTick 在10%容差内吸附到规范档位，否则原样返回
func snapTick(gap float64) float64 {
	for _, tick := range canonicalTicks {
		if math.Abs(gap-tick)/tick <= 0.1 {
			return tick
		}
	}
	return gap
}
