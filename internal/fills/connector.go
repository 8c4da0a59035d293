package fills

import (
	"context"
	"sync/atomic"
	"time"

	"copyflow/pkg/hype/stream"
	"copyflow/pkg/hype/types"
	"copyflow/pkg/logger"

	"github.com/goccy/go-json"
)

// 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	// 连续失败到这个数就彻底放弃重连
	maxConsecutiveFailures = 10

	defaultQueueSize = 256
)

// 活性检查周期和判死窗口
var (
	livenessInterval = 15 * time.Second
	livenessWindow   = 45 * time.Second
)

// 按连续失败次数取退避时长，超出部分夹在最后一档
var backoffSchedule = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

func backoffFor(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > len(backoffSchedule) {
		failures = len(backoffSchedule)
	}
	return backoffSchedule[failures-1]
}

// AlertSink 重连耗尽时的告警出口，尽力投递
type AlertSink interface {
	ReconnectExhausted(ctx context.Context, user string, failures int)
}

type streamConn interface {
	SubscribeUserFills(user string) error
	Ping() error
	Read() (*types.GenericMessage, error)
	Close() error
}

type dialFunc func(ctx context.Context) (streamConn, error)

// Connector 单个被跟踪钱包的成交推送连接。
// 自带重连、活性检查和快照丢弃，下游通过有界队列消费，
// 队列满时丢最旧的一条，绝不反压到连接本身
type Connector struct {
	wsUrl string
	user  string
	dial  dialFunc
	alert AlertSink

	out          chan types.UserFill
	state        atomic.Int32
	lastActivity atomic.Int64 // unix纳秒
}

func NewConnector(wsUrl, user string, alert AlertSink) *Connector {
	c := &Connector{
		wsUrl: wsUrl,
		user:  user,
		alert: alert,
		out:   make(chan types.UserFill, defaultQueueSize),
	}
	c.dial = func(ctx context.Context) (streamConn, error) {
		return stream.Dial(ctx, c.wsUrl)
	}
	return c
}

// Fills 实时成交队列
func (c *Connector) Fills() <-chan types.UserFill {
	return c.out
}

func (c *Connector) State() State {
	return State(c.state.Load())
}

// Start 启动连接循环，ctx取消后关闭连接退出
func (c *Connector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Connector) run(ctx context.Context) {
	defer c.state.Store(int32(StateDisconnected))

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		c.state.Store(int32(StateConnecting))

		conn, err := c.connect(ctx)
		if err != nil {
			failures++
			logger.Warn("fill stream connect failed",
				logger.Pair("user", c.user),
				logger.Pair("failures", failures),
				logger.Pair("err", err.Error()))

			if failures >= maxConsecutiveFailures {
				// 只告警一次，之后彻底停止
				logger.Error("fill stream reconnect exhausted, giving up",
					logger.Pair("user", c.user))
				if c.alert != nil {
					c.alert.ReconnectExhausted(ctx, c.user, failures)
				}
				return
			}
			c.state.Store(int32(StateReconnecting))
			if !sleepCtx(ctx, backoffFor(failures)) {
				return
			}
			continue
		}

		failures = 0
		c.state.Store(int32(StateConnected))
		c.markActivity()
		logger.Info("fill stream connected", logger.Pair("user", c.user))

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("fill stream dropped, reconnecting",
			logger.Pair("user", c.user),
			logger.Pair("err", err.Error()))
		c.state.Store(int32(StateReconnecting))
		if !sleepCtx(ctx, backoffFor(1)) {
			return
		}
	}
}

func (c *Connector) connect(ctx context.Context) (streamConn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.SubscribeUserFills(c.user); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// serve 消费一条连接直到出错或ctx取消。
// 另起活性协程：窗口内无任何消息就判定假死，强制断开
func (c *Connector) serve(ctx context.Context, conn streamConn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(livenessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if time.Since(c.lastActivityTime()) > livenessWindow {
					logger.Warn("fill stream stale, forcing reconnect",
						logger.Pair("user", c.user))
					conn.Close()
					return
				}
				// 心跳换pong，让空闲连接也有活性信号
				if err := conn.Ping(); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	firstBatch := true
	for {
		msg, err := conn.Read()
		if err != nil {
			return err
		}
		c.markActivity()

		if msg.Channel != "userFills" {
			// pong、订阅确认等只当活性信号
			continue
		}

		var data types.UserFillsData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Errorf("decode userFills message: %v", err)
			continue
		}

		if firstBatch {
			firstBatch = false
			// 连接后的第一批是历史快照，不是实时成交。
			// 没带标记的第一批按实时处理
			if data.IsSnapshot {
				logger.Info("discarding fill snapshot",
					logger.Pair("user", c.user),
					logger.Pair("count", len(data.Fills)))
				continue
			}
		}

		for _, fill := range data.Fills {
			c.enqueue(fill)
		}
	}
}

// enqueue 非阻塞入队，满了丢最旧的
func (c *Connector) enqueue(fill types.UserFill) {
	for {
		select {
		case c.out <- fill:
			return
		default:
			select {
			case dropped := <-c.out:
				logger.Warn("fill queue full, dropping oldest",
					logger.Pair("user", c.user),
					logger.Pair("coin", dropped.Coin))
			default:
			}
		}
	}
}

func (c *Connector) markActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connector) lastActivityTime() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
