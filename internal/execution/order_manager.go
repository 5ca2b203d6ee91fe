// Package execution 负责订单执行、订单与持仓跟踪
package execution

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/metrics"
	"github.com/betbot/kalshibot/pkg/logger"
	"github.com/betbot/kalshibot/pkg/sigchan"
)

// OrderManager 订单跟踪器
// 活跃订单与已完结订单分开索引，订单到达终态后单向迁移
type OrderManager struct {
	mu        sync.RWMutex
	active    map[string]*domain.Order
	completed map[string]*domain.Order

	// 状态推进信号，唤醒等待成交的轮询方
	progress *sigchan.Chan
}

// NewOrderManager 创建订单跟踪器
func NewOrderManager() *OrderManager {
	return &OrderManager{
		active:    make(map[string]*domain.Order),
		completed: make(map[string]*domain.Order),
		progress:  sigchan.New(1),
	}
}

// Add 把订单加入活跃索引
func (om *OrderManager) Add(o *domain.Order) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.active[o.ID] = o
	logger.Debugf("[execution] 跟踪订单: %s %s %s %s@%s x%d",
		o.ID, o.Ticker, o.Action, o.Side, o.Price, o.Count)
}

// Update 更新订单状态，到达终态时迁移到已完结索引
func (om *OrderManager) Update(orderID string, status domain.OrderStatus, filledCount int, avgFillPrice decimal.Decimal) bool {
	om.mu.Lock()
	defer om.mu.Unlock()

	o, ok := om.active[orderID]
	if !ok {
		logger.Warnf("[execution] 更新的订单不在活跃索引: %s", orderID)
		return false
	}
	om.applyLocked(o, status, filledCount, avgFillPrice)
	return true
}

// ApplyFill 把一笔成交累加到订单上，读改写全程在锁内完成
// 累计数量封顶在订单张数，满额即 FILLED；没有匹配的活跃订单时返回 false
func (om *OrderManager) ApplyFill(exchangeID string, count int, price decimal.Decimal) bool {
	om.mu.Lock()
	defer om.mu.Unlock()

	for _, o := range om.active {
		if o.ExchangeOrderID != exchangeID {
			continue
		}
		filled := o.FilledCount + count
		status := domain.OrderStatusPartial
		if filled >= o.Count {
			filled = o.Count
			status = domain.OrderStatusFilled
		}
		om.applyLocked(o, status, filled, price)
		return true
	}
	return false
}

// applyLocked 在持有写锁的前提下更新订单字段并处理终态迁移
func (om *OrderManager) applyLocked(o *domain.Order, status domain.OrderStatus, filledCount int, avgFillPrice decimal.Decimal) {
	o.Status = status
	if filledCount > 0 {
		o.FilledCount = filledCount
	}
	if avgFillPrice.IsPositive() {
		o.AvgFillPrice = avgFillPrice
	}
	o.UpdatedAt = time.Now()
	if status == domain.OrderStatusFilled && o.FilledAt == nil {
		now := time.Now()
		o.FilledAt = &now
	}

	if status.IsTerminal() {
		om.completed[o.ID] = o
		delete(om.active, o.ID)
		switch status {
		case domain.OrderStatusFilled:
			metrics.OrdersFilled.Add(1)
		case domain.OrderStatusCancelled:
			metrics.OrdersCancelled.Add(1)
		case domain.OrderStatusRejected:
			metrics.OrdersRejected.Add(1)
		}
		logger.Infof("[execution] 订单完结: %s status=%s filled=%d", o.ID, status, o.FilledCount)
		om.progress.Emit()
	}
}

// Progress 有订单到达终态时可收到信号（合并式，不指明具体订单）
func (om *OrderManager) Progress() <-chan struct{} {
	return om.progress.C()
}

// StatusOf 在锁内读取订单状态
func (om *OrderManager) StatusOf(orderID string) (domain.OrderStatus, bool) {
	om.mu.RLock()
	defer om.mu.RUnlock()
	if o, ok := om.active[orderID]; ok {
		return o.Status, true
	}
	if o, ok := om.completed[orderID]; ok {
		return o.Status, true
	}
	return "", false
}

// Get 按本地 id 查询订单，先查活跃再查已完结
// 返回的是快照，修改返回值不影响内部状态
func (om *OrderManager) Get(orderID string) (*domain.Order, bool) {
	om.mu.RLock()
	defer om.mu.RUnlock()
	if o, ok := om.active[orderID]; ok {
		return snapshot(o), true
	}
	if o, ok := om.completed[orderID]; ok {
		return snapshot(o), true
	}
	return nil, false
}

// GetByExchangeID 按交易所订单 id 查询，返回快照
func (om *OrderManager) GetByExchangeID(exchangeID string) (*domain.Order, bool) {
	om.mu.RLock()
	defer om.mu.RUnlock()
	for _, o := range om.active {
		if o.ExchangeOrderID == exchangeID {
			return snapshot(o), true
		}
	}
	for _, o := range om.completed {
		if o.ExchangeOrderID == exchangeID {
			return snapshot(o), true
		}
	}
	return nil, false
}

// ActiveOrders 活跃订单快照列表，ticker 为空时返回全部
func (om *OrderManager) ActiveOrders(ticker string) []*domain.Order {
	om.mu.RLock()
	defer om.mu.RUnlock()
	out := make([]*domain.Order, 0, len(om.active))
	for _, o := range om.active {
		if ticker == "" || o.Ticker == ticker {
			out = append(out, snapshot(o))
		}
	}
	return out
}

// snapshot 复制订单，调用方必须持有锁
func snapshot(o *domain.Order) *domain.Order {
	cp := *o
	return &cp
}

// ActiveCount 活跃订单数
func (om *OrderManager) ActiveCount() int {
	om.mu.RLock()
	defer om.mu.RUnlock()
	return len(om.active)
}

// ClearCompleted 清空已完结订单，返回清除数量
func (om *OrderManager) ClearCompleted() int {
	om.mu.Lock()
	defer om.mu.Unlock()
	n := len(om.completed)
	om.completed = make(map[string]*domain.Order)
	return n
}
