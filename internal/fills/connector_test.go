package fills

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"copyflow/pkg/hype/types"

	"github.com/goccy/go-json"
)

type fakeConn struct {
	msgs []*types.GenericMessage
	idx  int
}

func (f *fakeConn) SubscribeUserFills(user string) error { return nil }
func (f *fakeConn) Ping() error                          { return nil }
func (f *fakeConn) Close() error                         { return nil }

func (f *fakeConn) Read() (*types.GenericMessage, error) {
	if f.idx >= len(f.msgs) {
		return nil, errors.New("connection closed")
	}
	m := f.msgs[f.idx]
	f.idx++
	return m, nil
}

func fillsMsg(isSnapshot bool, coins ...string) *types.GenericMessage {
	data := types.UserFillsData{IsSnapshot: isSnapshot, User: "0xabc"}
	for _, c := range coins {
		data.Fills = append(data.Fills, types.UserFill{Coin: c, Sz: "1", Px: "100"})
	}
	raw, _ := json.Marshal(data)
	return &types.GenericMessage{Channel: "userFills", Data: raw}
}

func drain(c *Connector) []types.UserFill {
	var out []types.UserFill
	for {
		select {
		case f := <-c.Fills():
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 30 * time.Second},
		{4, 60 * time.Second},
		{5, 300 * time.Second},
		{9, 300 * time.Second}, // 超出表尾夹住
	}
	for _, c := range cases {
		if got := backoffFor(c.failures); got != c.want {
			t.Errorf("failures=%d: 期望%v，实际%v", c.failures, c.want, got)
		}
	}
}

func TestServeDiscardsSnapshotBatch(t *testing.T) {
	c := NewConnector("ws://x", "0xabc", nil)
	conn := &fakeConn{msgs: []*types.GenericMessage{
		fillsMsg(true, "BTC", "ETH"), // 历史快照
		fillsMsg(false, "SOL"),
	}}

	_ = c.serve(context.Background(), conn)

	got := drain(c)
	if len(got) != 1 || got[0].Coin != "SOL" {
		t.Errorf("快照应被丢弃，只留实时成交，实际 %v", got)
	}
}

func TestServeUnflaggedFirstBatchTreatedLive(t *testing.T) {
	c := NewConnector("ws://x", "0xabc", nil)
	conn := &fakeConn{msgs: []*types.GenericMessage{
		fillsMsg(false, "BTC"),
	}}

	_ = c.serve(context.Background(), conn)

	if got := drain(c); len(got) != 1 {
		t.Errorf("无快照标记的第一批应按实时处理，实际 %v", got)
	}
}

func TestServeIgnoresOtherChannels(t *testing.T) {
	c := NewConnector("ws://x", "0xabc", nil)
	raw, _ := json.Marshal(map[string]string{})
	conn := &fakeConn{msgs: []*types.GenericMessage{
		{Channel: "pong", Data: raw},
		{Channel: "subscriptionResponse", Data: raw},
		fillsMsg(false, "BTC"),
	}}

	_ = c.serve(context.Background(), conn)

	if got := drain(c); len(got) != 1 || got[0].Coin != "BTC" {
		t.Errorf("非成交频道不应入队，实际 %v", got)
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	c := NewConnector("ws://x", "0xabc", nil)
	c.out = make(chan types.UserFill, 2)

	c.enqueue(types.UserFill{Coin: "A"})
	c.enqueue(types.UserFill{Coin: "B"})
	c.enqueue(types.UserFill{Coin: "C"}) // 挤掉A

	got := drain(c)
	if len(got) != 2 || got[0].Coin != "B" || got[1].Coin != "C" {
		t.Errorf("应丢最旧保最新，实际 %v", got)
	}
}

// staleConn 订阅成功后再无任何消息，Read一直阻塞到连接被关
type staleConn struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *staleConn) SubscribeUserFills(user string) error { return nil }
func (s *staleConn) Ping() error                          { return nil }

func (s *staleConn) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *staleConn) Read() (*types.GenericMessage, error) {
	<-s.closed
	return nil, errors.New("use of closed connection")
}

func TestServeForcesCloseOnStaleConnection(t *testing.T) {
	origInterval, origWindow := livenessInterval, livenessWindow
	livenessInterval, livenessWindow = 5*time.Millisecond, 15*time.Millisecond
	defer func() { livenessInterval, livenessWindow = origInterval, origWindow }()

	c := NewConnector("ws://x", "0xabc", nil)
	c.markActivity()
	conn := &staleConn{closed: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- c.serve(context.Background(), conn) }()

	// 连接还在但一条消息都不来，窗口过后活性协程应强制断开
	select {
	case err := <-done:
		if err == nil {
			t.Error("假死连接被强制断开后serve应带错误返回")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("窗口内无消息应判假死并断开连接")
	}
}

type recordingAlert struct {
	calls int
}

func (r *recordingAlert) ReconnectExhausted(ctx context.Context, user string, failures int) {
	r.calls++
}

func TestReconnectExhaustedAlertsOnce(t *testing.T) {
	orig := backoffSchedule
	backoffSchedule = []time.Duration{time.Millisecond}
	defer func() { backoffSchedule = orig }()

	alert := &recordingAlert{}
	c := NewConnector("ws://x", "0xabc", alert)
	c.dial = func(ctx context.Context) (streamConn, error) {
		return nil, errors.New("dial refused")
	}

	done := make(chan struct{})
	go func() {
		c.run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("连续失败后run应自行终止")
	}
	if alert.calls != 1 {
		t.Errorf("告警应恰好一次，实际%d次", alert.calls)
	}
	if c.State() != StateDisconnected {
		t.Errorf("终态应为disconnected，实际%v", c.State())
	}
}
