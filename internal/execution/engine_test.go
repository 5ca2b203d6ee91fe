package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/kalshi"
)

// fakeExchange 可编程的交易所桩
type fakeExchange struct {
	mu sync.Mutex

	createErr   error
	failAfter   int // 前 failAfter 次下单成功，之后全部失败
	createCalls int
	cancelled   []string

	// exchangeOrderID -> 依次返回的状态序列，耗尽后停在最后一个
	states map[string][]*kalshi.OrderState
	seen   map[string]int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		states: make(map[string][]*kalshi.OrderState),
		seen:   make(map[string]int),
	}
}

func (f *fakeExchange) CreateOrder(_ context.Context, o *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if f.failAfter > 0 && f.createCalls > f.failAfter {
		return fmt.Errorf("exchange rejected order")
	}
	o.ExchangeOrderID = fmt.Sprintf("exch-%d", f.createCalls)
	o.Status = domain.OrderStatusSubmitted
	return nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, exchangeOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, exchangeOrderID)
	return nil
}

func (f *fakeExchange) GetOrder(_ context.Context, exchangeOrderID string) (*kalshi.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.states[exchangeOrderID]
	if len(seq) == 0 {
		return &kalshi.OrderState{ExchangeOrderID: exchangeOrderID, Status: domain.OrderStatusSubmitted}, nil
	}
	i := f.seen[exchangeOrderID]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	f.seen[exchangeOrderID]++
	return seq[i], nil
}

// fillImmediately 让某个交易所订单在首次查询即全部成交
func (f *fakeExchange) fillImmediately(exchangeOrderID string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[exchangeOrderID] = []*kalshi.OrderState{
		{ExchangeOrderID: exchangeOrderID, Status: domain.OrderStatusFilled, FilledCount: count},
	}
}

func newTestEngine(t *testing.T, api ExchangeAPI, balance int64) (*Engine, *domain.Account, *PositionTracker, *OrderManager) {
	t.Helper()
	account := domain.NewAccount(decimal.NewFromInt(balance))
	orders := NewOrderManager()
	positions := NewPositionTracker()
	e := NewEngine(api, orders, positions, account)
	e.fillTimeout = 100 * time.Millisecond
	e.pollInterval = 10 * time.Millisecond
	return e, account, positions, orders
}

func testSignal() *domain.TradingSignal {
	return &domain.TradingSignal{
		Ticker:          "KXBTC-TEST",
		Side:            domain.SideYes,
		EntryPrice:      decimal.NewFromFloat(0.80),
		Count:           625, // $500
		StopLossPrice:   decimal.NewFromFloat(0.792),
		TakeProfitPrice: decimal.NewFromFloat(0.816),
		Confidence:      decimal.NewFromInt(80),
		Strength:        domain.StrengthMedium,
		CreatedAt:       time.Now(),
	}
}

// TestExecuteSignalSuccess 入场成交后建立持仓并挂出止损/止盈
func TestExecuteSignalSuccess(t *testing.T) {
	api := newFakeExchange()
	api.fillImmediately("exch-1", 625)
	e, account, positions, _ := newTestEngine(t, api, 10000)

	var opened []*domain.Position
	e.OnPositionOpened(func(p *domain.Position) { opened = append(opened, p) })

	p, err := e.ExecuteSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	// 入场 + 止损 + 止盈
	if api.createCalls != 3 {
		t.Errorf("下单次数 = %d, 期望 3", api.createCalls)
	}
	if p.StopOrderID == "" || p.TakeOrderID == "" {
		t.Error("止损/止盈订单 id 应已记录")
	}
	if positions.OpenCount() != 1 {
		t.Errorf("未平仓数 = %d, 期望 1", positions.OpenCount())
	}
	// 资金保持锁定: 0.80 × 625 = 500
	if !account.LockedFunds().Equal(decimal.NewFromInt(500)) {
		t.Errorf("锁定资金 = %s, 期望 500", account.LockedFunds())
	}
	if len(opened) != 1 {
		t.Errorf("开仓回调次数 = %d, 期望 1", len(opened))
	}
}

// TestExecuteSignalTimeout 入场超时未成交: 撤单、解锁、不建仓
func TestExecuteSignalTimeout(t *testing.T) {
	api := newFakeExchange() // GetOrder 始终返回 SUBMITTED
	e, account, positions, _ := newTestEngine(t, api, 10000)

	p, err := e.ExecuteSignal(context.Background(), testSignal())
	if err == nil || p != nil {
		t.Fatal("入场超时应失败且不建仓")
	}
	if len(api.cancelled) != 1 || api.cancelled[0] != "exch-1" {
		t.Errorf("应撤销入场单, 实际 %v", api.cancelled)
	}
	if positions.OpenCount() != 0 {
		t.Error("超时后不应有持仓")
	}
	if !account.LockedFunds().IsZero() {
		t.Errorf("资金应已解锁, 实际锁定 %s", account.LockedFunds())
	}
}

// TestExecuteSignalSubmitFailure 入场单提交失败: 解锁、不建仓
func TestExecuteSignalSubmitFailure(t *testing.T) {
	api := newFakeExchange()
	api.createErr = fmt.Errorf("exchange unavailable")
	e, account, positions, orders := newTestEngine(t, api, 10000)

	if p, err := e.ExecuteSignal(context.Background(), testSignal()); err == nil || p != nil {
		t.Fatal("提交失败应返回错误且不建仓")
	}
	if positions.OpenCount() != 0 {
		t.Error("不应有持仓")
	}
	if !account.LockedFunds().IsZero() {
		t.Error("资金应已解锁")
	}
	if orders.ActiveCount() != 0 {
		t.Error("被拒订单不应留在活跃索引")
	}
}

// TestExecuteSignalProtectiveFailure 止损/止盈挂单失败不回滚已开仓位
func TestExecuteSignalProtectiveFailure(t *testing.T) {
	api := newFakeExchange()
	api.failAfter = 1 // 只有入场单成功
	api.fillImmediately("exch-1", 625)
	e, _, positions, _ := newTestEngine(t, api, 10000)

	p, err := e.ExecuteSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("入场成功时不应失败: %v", err)
	}
	if positions.OpenCount() != 1 {
		t.Error("持仓应保留")
	}
	if p.StopOrderID != "" || p.TakeOrderID != "" {
		t.Error("保护单挂单失败时不应记录订单 id")
	}
}

// TestClosePosition 平仓: 撤保护单、折价卖出、记账
func TestClosePosition(t *testing.T) {
	api := newFakeExchange()
	api.fillImmediately("exch-1", 625)
	e, account, positions, _ := newTestEngine(t, api, 10000)

	var closedCb []*domain.Position
	e.OnPositionClosed(func(p *domain.Position) { closedCb = append(closedCb, p) })

	p, err := e.ExecuteSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatal(err)
	}

	// 平仓单 exch-4 立即成交
	api.fillImmediately("exch-4", 625)

	exitPrice := decimal.NewFromFloat(0.816)
	if err := e.ClosePosition(context.Background(), p, exitPrice, domain.ExitTakeProfit); err != nil {
		t.Fatalf("平仓失败: %v", err)
	}

	// 止损/止盈两张保护单被撤
	if len(api.cancelled) != 2 {
		t.Errorf("撤单数 = %d, 期望 2 (止损+止盈)", len(api.cancelled))
	}
	if positions.OpenCount() != 0 {
		t.Error("平仓后不应有未平仓持仓")
	}
	closed, ok := positions.Get(p.ID)
	if !ok || closed.Status != domain.PositionStatusClosed {
		t.Fatal("持仓应处于 CLOSED")
	}
	// PnL = (0.816 - 0.80) × 625 = 10
	if !closed.RealizedPnL.Equal(decimal.NewFromInt(10)) {
		t.Errorf("已实现盈亏 = %s, 期望 10", closed.RealizedPnL)
	}
	// 资金解锁且盈亏入账: 10000 + 10
	if !account.LockedFunds().IsZero() {
		t.Error("平仓后资金应解锁")
	}
	if !account.Balance().Equal(decimal.NewFromInt(10010)) {
		t.Errorf("余额 = %s, 期望 10010", account.Balance())
	}
	if len(closedCb) != 1 {
		t.Error("平仓回调应触发一次")
	}
}

// TestClosePositionUnfilledStillCloses 平仓单未成交也必须标记关闭
func TestClosePositionUnfilledStillCloses(t *testing.T) {
	api := newFakeExchange()
	api.fillImmediately("exch-1", 625)
	e, account, positions, _ := newTestEngine(t, api, 10000)

	p, err := e.ExecuteSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatal(err)
	}

	// 平仓单永远 SUBMITTED
	exitPrice := decimal.NewFromFloat(0.70)
	if err := e.ClosePosition(context.Background(), p, exitPrice, domain.ExitStopLoss); err != nil {
		t.Fatalf("平仓应成功(尽力而为): %v", err)
	}
	if positions.OpenCount() != 0 {
		t.Error("未成交的平仓单也应标记持仓关闭")
	}
	if !account.LockedFunds().IsZero() {
		t.Error("资金应解锁")
	}
}

// TestClosePositionIdempotent 重复平仓同一持仓应失败
func TestClosePositionIdempotent(t *testing.T) {
	api := newFakeExchange()
	api.fillImmediately("exch-1", 625)
	e, _, _, _ := newTestEngine(t, api, 10000)

	p, err := e.ExecuteSignal(context.Background(), testSignal())
	if err != nil {
		t.Fatal(err)
	}

	if err := e.ClosePosition(context.Background(), p, decimal.NewFromFloat(0.80), domain.ExitManual); err != nil {
		t.Fatal(err)
	}
	if err := e.ClosePosition(context.Background(), p, decimal.NewFromFloat(0.80), domain.ExitManual); err == nil {
		t.Error("已关闭的持仓不应再次平仓")
	}
}

// TestAggressivePrice 平仓折价: max(0.01, exit×0.95)
func TestAggressivePrice(t *testing.T) {
	e := &Engine{}

	cases := []struct {
		exit, want float64
	}{
		{0.80, 0.76},
		{0.816, 0.78}, // 0.7752 四舍五入到 0.78
		{0.01, 0.01},  // 下限
	}
	for _, tc := range cases {
		got := e.aggressivePrice(decimal.NewFromFloat(tc.exit))
		if !got.Equal(decimal.NewFromFloat(tc.want)) {
			t.Errorf("aggressivePrice(%v) = %s, 期望 %v", tc.exit, got, tc.want)
		}
	}
}
