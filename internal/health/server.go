// Package health 只读健康检查端点
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/pkg/logger"
)

// Status 某一时刻的系统状态，由主程序的回调提供
type Status struct {
	Running              bool            `json:"running"`
	StreamConnected      bool            `json:"stream_connected"`
	StreamOutageSeconds  float64         `json:"stream_outage_seconds"`
	CircuitBreakerActive bool            `json:"circuit_breaker_active"`
	CircuitBreakerReason string          `json:"circuit_breaker_reason,omitempty"`
	OpenPositions        int             `json:"open_positions"`
	Balance              decimal.Decimal `json:"balance"`
	DailyPnL             decimal.Decimal `json:"daily_pnl"`
}

// StatusFunc 返回当前系统状态
type StatusFunc func() Status

// Server 健康检查 HTTP 服务
// 只读，永远返回 200，用 status 字段区分 ok/degraded
type Server struct {
	srv       *http.Server
	getStatus StatusFunc
	startedAt time.Time
}

// NewServer 创建健康检查服务
func NewServer(port int, getStatus StatusFunc) *Server {
	s := &Server{
		getStatus: getStatus,
		startedAt: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", s.handleHealth)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start 启动服务，阻塞直到服务退出
func (s *Server) Start() error {
	logger.Infof("[health] 健康检查服务启动: %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 优雅停止
func (s *Server) Stop(ctx context.Context) error {
	logger.Infof("[health] 健康检查服务停止")
	return s.srv.Shutdown(ctx)
}

// Handler 暴露路由，测试用
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if s.getStatus != nil {
		st := s.getStatus()
		if !st.Running || !st.StreamConnected || st.CircuitBreakerActive {
			resp["status"] = "degraded"
		}
		resp["running"] = st.Running
		resp["stream_connected"] = st.StreamConnected
		resp["stream_outage_seconds"] = st.StreamOutageSeconds
		resp["circuit_breaker_active"] = st.CircuitBreakerActive
		if st.CircuitBreakerReason != "" {
			resp["circuit_breaker_reason"] = st.CircuitBreakerReason
		}
		resp["open_positions"] = st.OpenPositions
		resp["balance"] = st.Balance
		resp["daily_pnl"] = st.DailyPnL
	}

	c.JSON(http.StatusOK, resp)
}
