package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"copyflow/pkg/hype/types"
)

type HyperliquidRestClient struct {
	url        string
	httpClient *http.Client
}

func NewHyperliquidRestClient(rawUrl string) (*HyperliquidRestClient, error) {
	parsedUrl, err := url.Parse(rawUrl)
	if err != nil || parsedUrl.Scheme == "" || parsedUrl.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", rawUrl)
	}
	if len(parsedUrl.Path) > 0 && parsedUrl.Path[len(parsedUrl.Path)-1:] == "/" {
		parsedUrl.Path = parsedUrl.Path[:len(parsedUrl.Path)-1]
	}

	return &HyperliquidRestClient{
		url:        parsedUrl.String(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (rest *HyperliquidRestClient) doRequestWithContext(ctx context.Context, endpoint string, requestType string, additionalParams map[string]interface{}, result interface{}) error {
	reqBody := map[string]interface{}{"type": requestType}
	for key, value := range additionalParams {
		reqBody[key] = value
	}
	reqBodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	// 引入重试循环和指数退避
	const maxRetries = 5
	const backoffBase = 2 * time.Second
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		// 检查 Context 是否已被取消
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// 每次循环重建请求体，部分 HTTP 客户端读完 Body 后无法重用 io.Reader
		req, err := http.NewRequestWithContext(ctx, "POST", rest.url+endpoint, bytes.NewBuffer(reqBodyJSON))
		if err != nil {
			return fmt.Errorf("failed to create new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := rest.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to execute request (network error): %w", err)
			goto Retry // 网络错误，尝试重试
		}

		if resp.StatusCode == http.StatusOK {
			byteData, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to read response body: %w", err)
			}
			if err := json.Unmarshal(byteData, result); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
			return nil
		}

		// 429 需要退避后重试
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("received 429 Too Many Requests on attempt %d", attempt+1)
			goto Retry
		}

		// 其他非 OK 状态通常不可恢复
		resp.Body.Close()
		return fmt.Errorf("received non-OK HTTP status: %s", resp.Status)

	Retry:
		if attempt == maxRetries-1 {
			return fmt.Errorf("API failed after %d retries. Last error: %w", maxRetries, lastErr)
		}

		// 指数退避： backoffBase * 2^attempt
		waitTime := backoffBase * time.Duration(1<<attempt)
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("unexpected exit from retry loop")
}

// PerpetualsMetadata 获取永续合约元数据（币种下标、szDecimals）
func (rest *HyperliquidRestClient) PerpetualsMetadata(ctx context.Context) (types.Universe, error) {
	var metadata types.Universe
	if err := rest.doRequestWithContext(ctx, "/info", "meta", nil, &metadata); err != nil {
		return types.Universe{}, err
	}
	return metadata, nil
}

// PerpetualsAccountSummary 获取账号信息: 永续合约持仓、保证金汇总、可提现余额
func (rest *HyperliquidRestClient) PerpetualsAccountSummary(ctx context.Context, user string) (types.MarginData, error) {
	var marginData types.MarginData
	params := map[string]interface{}{"user": user}
	if err := rest.doRequestWithContext(ctx, "/info", "clearinghouseState", params, &marginData); err != nil {
		return types.MarginData{}, err
	}
	return marginData, nil
}

// L2Book 获取某币种的订单簿深度
func (rest *HyperliquidRestClient) L2Book(ctx context.Context, coin string) (types.L2Book, error) {
	var book types.L2Book
	params := map[string]interface{}{"coin": coin}
	if err := rest.doRequestWithContext(ctx, "/info", "l2Book", params, &book); err != nil {
		return types.L2Book{}, err
	}
	return book, nil
}

// AllMids 获取全部币种的中间价
func (rest *HyperliquidRestClient) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := rest.doRequestWithContext(ctx, "/info", "allMids", nil, &raw); err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(raw))
	for k, v := range raw {
		// "@123" 开头的是现货对，跳过
		if len(k) > 0 && k[0] == '@' {
			continue
		}
		prices[k] = parseStringToFloat(v)
	}
	return prices, nil
}
