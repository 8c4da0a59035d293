package server

import (
	"context"
	"net/http"
	"time"

	"copyflow/internal/fills"
	"copyflow/internal/state"
	"copyflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// 响应结构，code=0 表示成功
type apiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Server 只读状态接口：健康检查、各账户状态机快照、成交流连接状态。
// 不暴露任何控制入口，控制走运维侧
type Server struct {
	listen     string
	connectors map[string]*fills.Connector // 被跟踪钱包 -> 成交流连接
	managers   map[string]*state.Manager
	httpSrv    *http.Server
}

func New(listen string, mode string, connectors map[string]*fills.Connector, managers map[string]*state.Manager) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}
	s := &Server{
		listen:     listen,
		connectors: connectors,
		managers:   managers,
	}

	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/healthz", s.health)
	api := g.Group("/api/v1")
	{
		api.GET("/accounts", s.accounts)
		api.GET("/accounts/:name", s.accountState)
		api.GET("/stream", s.streamStatus)
	}

	s.httpSrv = &http.Server{
		Addr:    listen,
		Handler: g,
	}
	return s
}

// Run 阻塞服务直到ctx取消
func (s *Server) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("status server shutdown: %v", err)
		}
	}()

	logger.Info("status server listening", logger.Pair("addr", s.listen))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("status server: %v", err)
	}
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) accounts(c *gin.Context) {
	names := make([]string, 0, len(s.managers))
	for name := range s.managers {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, apiResponse{Data: names})
}

func (s *Server) accountState(c *gin.Context) {
	name := c.Param("name")
	m, ok := s.managers[name]
	if !ok {
		c.JSON(http.StatusNotFound, apiResponse{Code: 1, Message: "unknown account"})
		return
	}
	c.JSON(http.StatusOK, apiResponse{Data: m.Snapshot()})
}

// streamStatus 按被跟踪钱包逐条报告成交流连接状态
func (s *Server) streamStatus(c *gin.Context) {
	streams := make(map[string]string, len(s.connectors))
	for wallet, conn := range s.connectors {
		streams[wallet] = conn.State().String()
	}
	c.JSON(http.StatusOK, apiResponse{Data: gin.H{"fill_streams": streams}})
}
