package execution

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/metrics"
	"github.com/betbot/kalshibot/pkg/logger"
)

// PositionTracker 持仓跟踪器
// 开仓与已平仓分开索引；支持按 id、按市场、按关联订单 id 查询
type PositionTracker struct {
	mu     sync.RWMutex
	open   map[string]*domain.Position
	closed map[string]*domain.Position
}

// NewPositionTracker 创建持仓跟踪器
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{
		open:   make(map[string]*domain.Position),
		closed: make(map[string]*domain.Position),
	}
}

// Add 登记新持仓
func (pt *PositionTracker) Add(p *domain.Position) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.open[p.ID] = p
	metrics.PositionsOpened.Add(1)
	logger.Infof("[execution] 持仓建立: %s %s entry=%s count=%d stop=%s take=%s",
		p.ID, p.Ticker, p.EntryPrice, p.Count, p.StopLossPrice, p.TakeProfitPrice)
}

// MarkClosing 标记持仓正在平仓，防止重复触发
func (pt *PositionTracker) MarkClosing(positionID string) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p, ok := pt.open[positionID]
	if !ok || p.Status != domain.PositionStatusOpen {
		return false
	}
	p.Status = domain.PositionStatusClosing
	return true
}

// Close 关闭持仓并迁移到已平仓索引，返回已关闭的持仓
func (pt *PositionTracker) Close(positionID string, exitPrice decimal.Decimal, reason domain.ExitReason) (*domain.Position, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	p, ok := pt.open[positionID]
	if !ok {
		logger.Warnf("[execution] 待平仓持仓不存在: %s", positionID)
		return nil, false
	}

	p.Close(exitPrice, reason, time.Now())
	pt.closed[positionID] = p
	delete(pt.open, positionID)
	metrics.PositionsClosed.Add(1)

	logger.Infof("[execution] 持仓关闭: %s %s exit=%s reason=%s pnl=%s",
		p.ID, p.Ticker, exitPrice, reason, p.RealizedPnL)
	return p, true
}

// Get 按 id 查询持仓
func (pt *PositionTracker) Get(positionID string) (*domain.Position, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if p, ok := pt.open[positionID]; ok {
		return p, true
	}
	p, ok := pt.closed[positionID]
	return p, ok
}

// OpenPositions 全部未平仓持仓
func (pt *PositionTracker) OpenPositions() []*domain.Position {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make([]*domain.Position, 0, len(pt.open))
	for _, p := range pt.open {
		out = append(out, p)
	}
	return out
}

// OpenCount 未平仓数量
func (pt *PositionTracker) OpenCount() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.open)
}

// ForMarket 某市场的未平仓持仓
func (pt *PositionTracker) ForMarket(ticker string) (*domain.Position, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	for _, p := range pt.open {
		if p.Ticker == ticker {
			return p, true
		}
	}
	return nil, false
}

// HasMarket 某市场是否已有未平仓持仓
func (pt *PositionTracker) HasMarket(ticker string) bool {
	_, ok := pt.ForMarket(ticker)
	return ok
}

// ByOrderID 按任一关联订单 id（入场/止损/止盈/平仓）查找持仓
// 用于把异步成交通知归属到对应持仓
func (pt *PositionTracker) ByOrderID(orderID string) (*domain.Position, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	for _, p := range pt.open {
		if positionLinks(p, orderID) {
			return p, true
		}
	}
	for _, p := range pt.closed {
		if positionLinks(p, orderID) {
			return p, true
		}
	}
	return nil, false
}

func positionLinks(p *domain.Position, orderID string) bool {
	return p.EntryOrderID == orderID ||
		p.StopOrderID == orderID ||
		p.TakeOrderID == orderID ||
		p.ExitOrderID == orderID
}

// TotalExposure 未平仓持仓的名义金额合计
func (pt *PositionTracker) TotalExposure() decimal.Decimal {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	total := decimal.Zero
	for _, p := range pt.open {
		total = total.Add(p.Notional())
	}
	return total
}

// UnrealizedPnL 按各市场当前价计算浮动盈亏合计
func (pt *PositionTracker) UnrealizedPnL(prices map[string]decimal.Decimal) decimal.Decimal {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	total := decimal.Zero
	for _, p := range pt.open {
		if price, ok := prices[p.Ticker]; ok {
			total = total.Add(p.UnrealizedPnL(price))
		}
	}
	return total
}
