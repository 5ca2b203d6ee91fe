package execution

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/kalshi"
	"github.com/betbot/kalshibot/internal/metrics"
	"github.com/betbot/kalshibot/pkg/logger"
)

// ExchangeAPI 执行引擎依赖的交易所操作
type ExchangeAPI interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	GetOrder(ctx context.Context, exchangeOrderID string) (*kalshi.OrderState, error)
}

// PositionCallback 持仓建立/关闭时回调（告警、落盘）
type PositionCallback func(p *domain.Position)

// aggressiveExitRatio 平仓单相对目标价的折价比例
// 限价所上近似市价单: 以 95% 的目标价卖出换取即时成交
var aggressiveExitRatio = decimal.NewFromFloat(0.95)

// Engine 订单执行引擎，实现三单体系:
// 入场限价单 + 止损限价单 + 止盈限价单
type Engine struct {
	api       ExchangeAPI
	orders    *OrderManager
	positions *PositionTracker
	account   *domain.Account

	fillTimeout  time.Duration
	pollInterval time.Duration

	onOpened PositionCallback
	onClosed PositionCallback
}

// NewEngine 创建执行引擎
func NewEngine(api ExchangeAPI, orders *OrderManager, positions *PositionTracker, account *domain.Account) *Engine {
	return &Engine{
		api:          api,
		orders:       orders,
		positions:    positions,
		account:      account,
		fillTimeout:  30 * time.Second,
		pollInterval: time.Second,
	}
}

// OnPositionOpened 设置开仓回调
func (e *Engine) OnPositionOpened(fn PositionCallback) { e.onOpened = fn }

// OnPositionClosed 设置平仓回调
func (e *Engine) OnPositionClosed(fn PositionCallback) { e.onClosed = fn }

// ExecuteSignal 执行入场信号
// 入场单未在超时内成交时撤单放弃，不建立持仓；
// 止损/止盈挂单失败只记日志，不回滚已开仓位
func (e *Engine) ExecuteSignal(ctx context.Context, sig *domain.TradingSignal) (*domain.Position, error) {
	notional := sig.Notional()
	if err := e.account.LockFunds(notional); err != nil {
		return nil, errors.Wrap(err, "锁定资金失败")
	}

	logger.Infof("[execution] 执行信号: %s entry=%s count=%d", sig.Ticker, sig.EntryPrice, sig.Count)

	entry, err := e.submitLimitOrder(ctx, sig.Ticker, sig.Side, domain.ActionBuy, sig.EntryPrice, sig.Count)
	if err != nil {
		e.unlock(notional)
		return nil, errors.Wrap(err, "入场单提交失败")
	}

	filled, err := e.waitForFill(ctx, entry)
	if err != nil || !filled {
		logger.Warnf("[execution] 入场单未成交, 撤单放弃: %s", entry.ID)
		e.cancelOrder(ctx, entry)
		e.unlock(notional)
		if err != nil {
			return nil, errors.Wrap(err, "等待入场成交失败")
		}
		return nil, errors.Errorf("入场单超时未成交: %s", entry.ID)
	}

	position := domain.NewPosition(sig.Ticker, sig.Side, entry.ID,
		sig.EntryPrice, sig.Count, sig.StopLossPrice, sig.TakeProfitPrice)

	// 止损/止盈为尽力而为的挂单
	if stop, err := e.submitLimitOrder(ctx, sig.Ticker, sig.Side, domain.ActionSell, sig.StopLossPrice, sig.Count); err != nil {
		logger.Errorf("[execution] 止损单挂单失败: %v", err)
	} else {
		position.StopOrderID = stop.ID
	}
	if take, err := e.submitLimitOrder(ctx, sig.Ticker, sig.Side, domain.ActionSell, sig.TakeProfitPrice, sig.Count); err != nil {
		logger.Errorf("[execution] 止盈单挂单失败: %v", err)
	} else {
		position.TakeOrderID = take.ID
	}

	e.positions.Add(position)
	if e.onOpened != nil {
		e.onOpened(position)
	}
	return position, nil
}

// ClosePosition 平仓流程:
// 撤掉剩余的止损/止盈挂单 -> 以折价限价单激进卖出 -> 等待成交 ->
// 无论是否成交都按计算的平仓价记账并关闭持仓
func (e *Engine) ClosePosition(ctx context.Context, p *domain.Position, exitPrice decimal.Decimal, reason domain.ExitReason) error {
	if !e.positions.MarkClosing(p.ID) {
		return errors.Errorf("持仓不处于可平仓状态: %s", p.ID)
	}

	logger.Infof("[execution] 平仓: %s %s exit=%s reason=%s", p.ID, p.Ticker, exitPrice, reason)

	for _, orderID := range []string{p.StopOrderID, p.TakeOrderID} {
		if orderID == "" {
			continue
		}
		if o, ok := e.orders.Get(orderID); ok && o.IsActive() {
			e.cancelOrder(ctx, o)
		}
	}

	exitOrder, err := e.submitLimitOrder(ctx, p.Ticker, p.Side, domain.ActionSell, e.aggressivePrice(exitPrice), p.Count)
	if err != nil {
		logger.Errorf("[execution] 平仓单提交失败: %v", err)
	} else {
		p.ExitOrderID = exitOrder.ID
		if filled, err := e.waitForFill(ctx, exitOrder); err != nil || !filled {
			logger.Warnf("[execution] 平仓单未立即成交: %s", exitOrder.ID)
		}
	}

	// 即使平仓单未成交也标记关闭，避免泄漏未平仓状态
	closed, ok := e.positions.Close(p.ID, exitPrice, reason)
	if !ok {
		return errors.Errorf("持仓关闭失败: %s", p.ID)
	}

	e.unlock(closed.Notional())
	e.account.RecordTrade(closed.RealizedPnL)
	if e.onClosed != nil {
		e.onClosed(closed)
	}
	return nil
}

// CancelAllActive 撤销全部活跃订单，停机时调用
func (e *Engine) CancelAllActive(ctx context.Context) {
	for _, o := range e.orders.ActiveOrders("") {
		e.cancelOrder(ctx, o)
	}
}

// aggressivePrice 平仓折价: max(0.01, 目标价 × 0.95)，保留两位小数
func (e *Engine) aggressivePrice(exitPrice decimal.Decimal) decimal.Decimal {
	p := exitPrice.Mul(aggressiveExitRatio).Round(2)
	if p.LessThan(domain.MinLimitPrice) {
		return domain.MinLimitPrice
	}
	return p
}

// submitLimitOrder 创建并提交限价单，失败时订单标记 REJECTED
func (e *Engine) submitLimitOrder(ctx context.Context, ticker string, side domain.OrderSide, action domain.OrderAction, price decimal.Decimal, count int) (*domain.Order, error) {
	o, err := domain.NewLimitOrder(ticker, side, action, price, count)
	if err != nil {
		return nil, err
	}
	e.orders.Add(o)

	if err := e.api.CreateOrder(ctx, o); err != nil {
		e.orders.Update(o.ID, domain.OrderStatusRejected, 0, decimal.Zero)
		return nil, err
	}
	if status, ok := e.orders.StatusOf(o.ID); ok && status == domain.OrderStatusPending {
		e.orders.Update(o.ID, domain.OrderStatusSubmitted, 0, decimal.Zero)
	}
	metrics.OrdersSubmitted.Add(1)
	return o, nil
}

// cancelOrder 撤单并更新本地状态，失败只记日志
func (e *Engine) cancelOrder(ctx context.Context, o *domain.Order) {
	if o.ExchangeOrderID != "" {
		if err := e.api.CancelOrder(ctx, o.ExchangeOrderID); err != nil {
			logger.Errorf("[execution] 撤单失败: %s %v", o.ID, err)
			return
		}
	}
	e.orders.Update(o.ID, domain.OrderStatusCancelled, 0, decimal.Zero)
}

// waitForFill 等待订单成交: 轮询 REST 状态，同时监听流式推送带来的终态信号
// 成交进度只会单调推进
func (e *Engine) waitForFill(ctx context.Context, o *domain.Order) (bool, error) {
	deadline := time.Now().Add(e.fillTimeout)

	for time.Now().Before(deadline) {
		if status, ok := e.orders.StatusOf(o.ID); ok {
			if status == domain.OrderStatusFilled {
				return true, nil
			}
			if status.IsTerminal() {
				return false, nil
			}
		}

		if o.ExchangeOrderID != "" {
			state, err := e.api.GetOrder(ctx, o.ExchangeOrderID)
			if err != nil {
				logger.Warnf("[execution] 查询订单状态失败: %s %v", o.ID, err)
			} else {
				e.orders.Update(o.ID, state.Status, state.FilledCount, state.Price)
				if state.Status == domain.OrderStatusFilled {
					return true, nil
				}
				if state.Status.IsTerminal() {
					return false, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-e.orders.Progress():
		case <-time.After(e.pollInterval):
		}
	}
	return false, nil
}

// unlock 解锁资金，失败只记日志（停机路径上不可再失败）
func (e *Engine) unlock(amount decimal.Decimal) {
	if err := e.account.UnlockFunds(amount); err != nil {
		logger.Errorf("[execution] 解锁资金失败: %v", err)
	}
}
