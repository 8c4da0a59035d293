package exchange

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"copyflow/pkg/hype/types"
)

// RemoteSigner 调用本地signer sidecar完成secp256k1签名。
// sidecar持有代理钱包私钥，本进程只拿到r/s/v
type RemoteSigner struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewRemoteSigner(url, token string) *RemoteSigner {
	return &RemoteSigner{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type signRequest struct {
	Hash string `json:"hash"`
}

type signResponse struct {
	R     string `json:"r"`
	S     string `json:"s"`
	V     int    `json:"v"`
	Error string `json:"error,omitempty"`
}

func (s *RemoteSigner) Sign(ctx context.Context, actionHash []byte) (types.Signature, error) {
	body, err := json.Marshal(signRequest{Hash: "0x" + hex.EncodeToString(actionHash)})
	if err != nil {
		return types.Signature{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewBuffer(body))
	if err != nil {
		return types.Signature{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return types.Signature{}, fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Signature{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return types.Signature{}, fmt.Errorf("signer returned %s: %s", resp.Status, string(raw))
	}

	var sr signResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return types.Signature{}, err
	}
	if sr.Error != "" {
		return types.Signature{}, fmt.Errorf("signer error: %s", sr.Error)
	}
	return types.Signature{R: sr.R, S: sr.S, V: sr.V}, nil
}
