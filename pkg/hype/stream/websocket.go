package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"copyflow/pkg/hype/types"

	"github.com/gorilla/websocket"
)

// Conn 一条已建立的ws连接。重连属于上层，本类型只管一条连接的生命周期
type Conn struct {
	conn        *websocket.Conn
	mutex       sync.Mutex
	lastRequest time.Time
}

func Dial(ctx context.Context, rawUrl string) (*Conn, error) {
	if _, err := url.ParseRequestURI(rawUrl); err != nil {
		return nil, errors.New("invalid websocket URL")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawUrl, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

func (c *Conn) sendMessage(message interface{}) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Ensure at least 50ms between requests
	timeSinceLastRequest := time.Since(c.lastRequest)
	if timeSinceLastRequest < 50*time.Millisecond {
		time.Sleep(50*time.Millisecond - timeSinceLastRequest)
	}
	c.lastRequest = time.Now()

	return c.conn.WriteJSON(message)
}

// SubscribeUserFills 订阅某个钱包的成交推送。
// 连接后的第一批消息是历史快照，带isSnapshot标记
func (c *Conn) SubscribeUserFills(user string) error {
	subscriptionMessage := map[string]interface{}{
		"method": "subscribe",
		"subscription": map[string]interface{}{
			"type": "userFills",
			"user": user,
		},
	}
	return c.sendMessage(subscriptionMessage)
}

// Ping 应用层心跳，服务端以 channel=pong 回复
func (c *Conn) Ping() error {
	return c.sendMessage(map[string]interface{}{"method": "ping"})
}

// Read 阻塞读取下一条消息并解析外层信封
func (c *Conn) Read() (*types.GenericMessage, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var response types.GenericMessage
	if err := json.Unmarshal(msg, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
