package exchange

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"copyflow/pkg/hype/types"

	"golang.org/x/crypto/sha3"
)

// Signer 对动作哈希签名。签名由外部signer sidecar完成，
// 私钥不进入本进程
type Signer interface {
	Sign(ctx context.Context, actionHash []byte) (types.Signature, error)
}

// Client 交易所下单端点的客户端，一个子账户一个实例
type Client struct {
	url          string
	vaultAddress string // 子账户地址，下到该账户名下
	signer       Signer
	httpClient   *http.Client
}

func NewClient(rawUrl string, vaultAddress string, signer Signer) (*Client, error) {
	parsedUrl, err := url.Parse(rawUrl)
	if err != nil || parsedUrl.Scheme == "" || parsedUrl.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", rawUrl)
	}
	if signer == nil {
		return nil, errors.New("exchange client requires a signer")
	}
	return &Client{
		url:          strings.TrimRight(parsedUrl.String(), "/"),
		vaultAddress: strings.ToLower(vaultAddress),
		signer:       signer,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// PlaceOrders 提交一批订单动作，返回每单的状态
func (c *Client) PlaceOrders(ctx context.Context, orders []types.OrderWire) (*types.ExchangeResponse, error) {
	if len(orders) == 0 {
		return nil, errors.New("no orders to place")
	}
	return c.postAction(ctx, types.OrderAction{
		Type:     "order",
		Orders:   orders,
		Grouping: "na",
	})
}

// CancelOrders 撤掉还挂在簿上的订单
func (c *Client) CancelOrders(ctx context.Context, cancels []types.CancelWire) (*types.ExchangeResponse, error) {
	if len(cancels) == 0 {
		return nil, errors.New("no orders to cancel")
	}
	return c.postAction(ctx, types.CancelAction{
		Type:    "cancel",
		Cancels: cancels,
	})
}

// postAction 签名并提交一个交易动作
func (c *Client) postAction(ctx context.Context, action interface{}) (*types.ExchangeResponse, error) {
	nonce := time.Now().UnixMilli()

	hash, err := actionHash(action, c.vaultAddress, nonce)
	if err != nil {
		return nil, err
	}

	sig, err := c.signer.Sign(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("sign order action: %w", err)
	}

	req := types.ExchangeRequest{
		Action:       action,
		Nonce:        nonce,
		Signature:    sig,
		VaultAddress: c.vaultAddress,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url+"/exchange", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange returned %s: %s", resp.Status, string(raw))
	}

	var exResp types.ExchangeResponse
	if err := json.Unmarshal(raw, &exResp); err != nil {
		return nil, fmt.Errorf("unmarshal exchange response: %w", err)
	}
	if exResp.Status != "ok" {
		msg := exResp.Error
		if msg == "" {
			msg = string(raw)
		}
		return &exResp, fmt.Errorf("exchange rejected action: %s", msg)
	}
	return &exResp, nil
}

// actionHash = keccak256(action的JSON编码 || 大端nonce || vault标志+地址)
func actionHash(action interface{}, vault string, nonce int64) ([]byte, error) {
	data, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(data)

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	h.Write(nonceBytes[:])

	if vault == "" {
		h.Write([]byte{0x00})
	} else {
		h.Write([]byte{0x01})
		h.Write([]byte(vault))
	}
	return h.Sum(nil), nil
}
