// Package risk 提供交易前校验与熔断机制
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/metrics"
	"github.com/betbot/kalshibot/pkg/logger"
)

// BreakerReason 熔断原因，按检查顺序排列
type BreakerReason string

const (
	BreakerDailyLoss         BreakerReason = "DAILY_LOSS"
	BreakerConsecutiveLosses BreakerReason = "CONSECUTIVE_LOSSES"
	BreakerAPIErrorRate      BreakerReason = "API_ERROR_RATE"
	BreakerWSDisconnect      BreakerReason = "WEBSOCKET_DISCONNECT"
	BreakerManual            BreakerReason = "MANUAL"
)

// BreakerConfig 熔断阈值
type BreakerConfig struct {
	MaxDailyLossPct      float64       // 单日最大亏损比例，如 0.05
	MaxConsecutiveLosses int           // 最大连续亏损次数
	APIErrorThreshold    float64       // API 错误率阈值 (0-1)
	MaxDisconnect        time.Duration // WebSocket 最长断连时间
}

// CircuitBreaker 熔断器
// 触发后保持激活状态，只能手动重置；激活期间拒绝全部新信号
type CircuitBreaker struct {
	cfg          BreakerConfig
	maxDailyLoss decimal.Decimal

	mu          sync.Mutex
	active      bool
	reason      BreakerReason
	triggeredAt time.Time
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:          cfg,
		maxDailyLoss: decimal.NewFromFloat(cfg.MaxDailyLossPct),
	}
}

// Check 按固定顺序检查全部熔断条件，返回首个命中的原因
// 只做判定，不改变状态
func (cb *CircuitBreaker) Check(account *domain.Account, apiErrorRate float64, wsDisconnect time.Duration) (bool, BreakerReason) {
	// 日亏损: 当日 PnL 为负且比例达到阈值
	pnl := account.DailyPnL()
	if pnl.IsNegative() && account.DailyPnLPct().Abs().GreaterThanOrEqual(cb.maxDailyLoss) {
		return true, BreakerDailyLoss
	}

	if account.ConsecutiveLosses() >= cb.cfg.MaxConsecutiveLosses {
		return true, BreakerConsecutiveLosses
	}

	if apiErrorRate >= cb.cfg.APIErrorThreshold {
		return true, BreakerAPIErrorRate
	}

	if wsDisconnect >= cb.cfg.MaxDisconnect {
		return true, BreakerWSDisconnect
	}

	return false, ""
}

// Trigger 激活熔断，已激活时为空操作
// 返回是否发生了 Inactive -> Active 的状态切换
func (cb *CircuitBreaker) Trigger(reason BreakerReason) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.active {
		return false
	}
	cb.active = true
	cb.reason = reason
	cb.triggeredAt = time.Now()
	metrics.BreakerTrips.Add(1)
	logger.Errorf("[risk] 熔断器激活: %s", reason)
	return true
}

// Reset 手动重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.active {
		logger.Warnf("[risk] 熔断器手动重置: reason=%s 持续=%v", cb.reason, time.Since(cb.triggeredAt))
	}
	cb.active = false
	cb.reason = ""
	cb.triggeredAt = time.Time{}
}

// IsActive 熔断器是否处于激活状态
func (cb *CircuitBreaker) IsActive() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.active
}

// Reason 当前激活原因，未激活时为空
func (cb *CircuitBreaker) Reason() BreakerReason {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.reason
}

// RequiresShutdown 日亏损与手动熔断要求整体停机，而非仅暂停开仓
func (cb *CircuitBreaker) RequiresShutdown() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.active {
		return false
	}
	return cb.reason == BreakerDailyLoss || cb.reason == BreakerManual
}
