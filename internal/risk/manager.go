package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/pkg/logger"
)

// ManagerConfig 风控整体配置
type ManagerConfig struct {
	MaxPositionSizePct  float64
	MaxTotalExposurePct float64
	MaxConcurrent       int
	Breaker             BreakerConfig
}

// BreakerCallback 熔断触发时回调，只在首次激活时调用一次
type BreakerCallback func(reason BreakerReason)

// Manager 风控中枢: 信号/订单前置校验 + 熔断检查
type Manager struct {
	orders    *OrderValidator
	positions *PositionValidator
	breaker   *CircuitBreaker

	onBreaker BreakerCallback
}

// NewManager 创建风控管理器
func NewManager(cfg ManagerConfig, onBreaker BreakerCallback) *Manager {
	return &Manager{
		orders:    &OrderValidator{},
		positions: NewPositionValidator(cfg.MaxPositionSizePct, cfg.MaxTotalExposurePct, cfg.MaxConcurrent),
		breaker:   NewCircuitBreaker(cfg.Breaker),
		onBreaker: onBreaker,
	}
}

// ValidateSignal 执行前校验: 熔断状态 -> 信号参数 -> 仓位限制
// 任一失败返回可读的拒绝原因，不产生任何副作用
func (m *Manager) ValidateSignal(sig *domain.TradingSignal, account *domain.Account, openPositions int) (bool, string) {
	if m.breaker.IsActive() {
		return false, fmt.Sprintf("熔断器激活中: %s", m.breaker.Reason())
	}

	if ok, reason := m.orders.ValidateSignal(sig, account); !ok {
		logger.Warnf("[risk] 信号校验失败: %s", reason)
		return false, reason
	}

	if ok, reason := m.positions.CanOpenPosition(sig.Notional(), account, openPositions); !ok {
		logger.Warnf("[risk] 仓位限制检查失败: %s", reason)
		return false, reason
	}

	return true, ""
}

// ValidateOrder 提交前校验订单
func (m *Manager) ValidateOrder(o *domain.Order) (bool, string) {
	if m.breaker.IsActive() {
		return false, fmt.Sprintf("熔断器激活中: %s", m.breaker.Reason())
	}
	return m.orders.ValidateOrder(o)
}

// CheckCircuitBreakers 周期性熔断检查
// 首次命中时激活熔断并回调一次；已激活时重复检查为空操作
func (m *Manager) CheckCircuitBreakers(account *domain.Account, apiErrorRate float64, wsDisconnect time.Duration) bool {
	hit, reason := m.breaker.Check(account, apiErrorRate, wsDisconnect)
	if !hit {
		return false
	}

	if m.breaker.Trigger(reason) {
		if m.onBreaker != nil {
			m.onBreaker(reason)
		}
		return true
	}
	return false
}

// TriggerManualShutdown 手动熔断，要求整体停机
func (m *Manager) TriggerManualShutdown() {
	logger.Errorf("[risk] 手动触发熔断停机")
	if m.breaker.Trigger(BreakerManual) && m.onBreaker != nil {
		m.onBreaker(BreakerManual)
	}
}

// ResetCircuitBreaker 手动重置熔断器
func (m *Manager) ResetCircuitBreaker() {
	logger.Warnf("[risk] 手动重置熔断器")
	m.breaker.Reset()
}

// IsBreakerActive 熔断器是否激活
func (m *Manager) IsBreakerActive() bool {
	return m.breaker.IsActive()
}

// BreakerReason 当前熔断原因
func (m *Manager) BreakerReason() BreakerReason {
	return m.breaker.Reason()
}

// ShouldShutdown 当前熔断原因是否要求整体停机
func (m *Manager) ShouldShutdown() bool {
	return m.breaker.RequiresShutdown()
}

// CheckSlippage 校验成交滑点
func (m *Manager) CheckSlippage(expected, actual decimal.Decimal) (bool, decimal.Decimal) {
	return m.orders.CheckSlippage(expected, actual)
}
