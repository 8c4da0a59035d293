package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"copyflow/internal/fills"
	"copyflow/internal/state"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

func newTestServer(connectors map[string]*fills.Connector, managers map[string]*state.Manager) *Server {
	return New(":0", gin.TestMode, connectors, managers)
}

func doGet(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.httpSrv.Handler.ServeHTTP(w, req)
	return w
}

func TestStreamStatusReportsEveryWallet(t *testing.T) {
	connectors := map[string]*fills.Connector{
		"0xaaa": fills.NewConnector("ws://x", "0xaaa", nil),
		"0xbbb": fills.NewConnector("ws://x", "0xbbb", nil),
	}
	s := newTestServer(connectors, nil)

	w := doGet(s, "/api/v1/stream")
	if w.Code != http.StatusOK {
		t.Fatalf("期望200，实际%d", w.Code)
	}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			FillStreams map[string]string `json:"fill_streams"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// 多个被跟踪钱包要逐条报告，不能只报其中一条
	if len(resp.Data.FillStreams) != 2 {
		t.Fatalf("应报告全部2条连接，实际 %v", resp.Data.FillStreams)
	}
	for _, wallet := range []string{"0xaaa", "0xbbb"} {
		if resp.Data.FillStreams[wallet] != "disconnected" {
			t.Errorf("钱包%s未启动的连接应为disconnected，实际%q", wallet, resp.Data.FillStreams[wallet])
		}
	}
}

func TestAccountStateLookup(t *testing.T) {
	managers := map[string]*state.Manager{
		"acct1": state.NewManager(context.Background(), nil, "acct1"),
	}
	s := newTestServer(nil, managers)

	if w := doGet(s, "/api/v1/accounts/acct1"); w.Code != http.StatusOK {
		t.Errorf("已知账户应返回200，实际%d", w.Code)
	}
	if w := doGet(s, "/api/v1/accounts/nope"); w.Code != http.StatusNotFound {
		t.Errorf("未知账户应返回404，实际%d", w.Code)
	}
}
