package execution

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
)

func newOrder(t *testing.T, ticker string, price float64) *domain.Order {
	t.Helper()
	o, err := domain.NewLimitOrder(ticker, domain.SideYes, domain.ActionBuy, decimal.NewFromFloat(price), 100)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

// TestOrderManagerMigration 终态订单单向迁移到已完结索引
func TestOrderManagerMigration(t *testing.T) {
	om := NewOrderManager()
	o := newOrder(t, "KXBTC-A", 0.80)
	om.Add(o)

	if om.ActiveCount() != 1 {
		t.Fatalf("活跃订单数 = %d, 期望 1", om.ActiveCount())
	}

	om.Update(o.ID, domain.OrderStatusFilled, 100, decimal.NewFromFloat(0.80))
	if om.ActiveCount() != 0 {
		t.Error("成交订单不应留在活跃索引")
	}
	got, ok := om.Get(o.ID)
	if !ok {
		t.Fatal("已完结订单应仍可查询")
	}
	if got.FilledAt == nil {
		t.Error("成交时间应已记录")
	}
	if got.FilledCount != 100 {
		t.Errorf("成交数量 = %d, 期望 100", got.FilledCount)
	}

	// 已完结订单不再接受更新
	if om.Update(o.ID, domain.OrderStatusCancelled, 0, decimal.Zero) {
		t.Error("终态订单的更新应被拒绝")
	}
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("状态被改写为 %s", got.Status)
	}
}

// TestOrderManagerByExchangeID 按交易所 id 检索活跃与已完结订单
func TestOrderManagerByExchangeID(t *testing.T) {
	om := NewOrderManager()
	a := newOrder(t, "KXBTC-A", 0.80)
	a.ExchangeOrderID = "exch-a"
	b := newOrder(t, "KXBTC-B", 0.70)
	b.ExchangeOrderID = "exch-b"
	om.Add(a)
	om.Add(b)
	om.Update(b.ID, domain.OrderStatusCancelled, 0, decimal.Zero)

	if got, ok := om.GetByExchangeID("exch-a"); !ok || got.ID != a.ID {
		t.Error("应在活跃索引中找到 exch-a")
	}
	if got, ok := om.GetByExchangeID("exch-b"); !ok || got.ID != b.ID {
		t.Error("应在已完结索引中找到 exch-b")
	}
	if _, ok := om.GetByExchangeID("exch-x"); ok {
		t.Error("不存在的交易所 id 不应命中")
	}
}

// TestOrderManagerActiveFilter 按市场过滤活跃订单
func TestOrderManagerActiveFilter(t *testing.T) {
	om := NewOrderManager()
	om.Add(newOrder(t, "KXBTC-A", 0.80))
	om.Add(newOrder(t, "KXBTC-A", 0.79))
	om.Add(newOrder(t, "KXETH-B", 0.60))

	if n := len(om.ActiveOrders("KXBTC-A")); n != 2 {
		t.Errorf("KXBTC-A 活跃订单 = %d, 期望 2", n)
	}
	if n := len(om.ActiveOrders("")); n != 3 {
		t.Errorf("全部活跃订单 = %d, 期望 3", n)
	}
}

// TestOrderManagerApplyFill 成交逐笔累加，满额后到达终态
func TestOrderManagerApplyFill(t *testing.T) {
	om := NewOrderManager()
	o := newOrder(t, "KXBTC-A", 0.80) // 100 张
	o.ExchangeOrderID = "exch-a"
	om.Add(o)

	if !om.ApplyFill("exch-a", 40, decimal.NewFromFloat(0.80)) {
		t.Fatal("活跃订单的成交应被接受")
	}
	got, _ := om.Get(o.ID)
	if got.Status != domain.OrderStatusPartial || got.FilledCount != 40 {
		t.Errorf("状态 = %s filled = %d, 期望 PARTIAL/40", got.Status, got.FilledCount)
	}

	// 超额成交截断到订单张数
	om.ApplyFill("exch-a", 70, decimal.NewFromFloat(0.81))
	got, _ = om.Get(o.ID)
	if got.Status != domain.OrderStatusFilled || got.FilledCount != 100 {
		t.Errorf("状态 = %s filled = %d, 期望 FILLED/100", got.Status, got.FilledCount)
	}
	if om.ActiveCount() != 0 {
		t.Error("满额成交后订单应迁出活跃索引")
	}

	if om.ApplyFill("exch-a", 1, decimal.NewFromFloat(0.80)) {
		t.Error("已完结订单不应再接受成交")
	}
	if om.ApplyFill("exch-x", 1, decimal.NewFromFloat(0.80)) {
		t.Error("未知交易所 id 不应命中")
	}
}

// TestOrderManagerSnapshotIsolation 查询返回快照，与并发更新互不干扰
func TestOrderManagerSnapshotIsolation(t *testing.T) {
	om := NewOrderManager()
	o := newOrder(t, "KXBTC-A", 0.80)
	o.ExchangeOrderID = "exch-a"
	om.Add(o)

	// 改写快照不应污染内部状态
	snap, _ := om.Get(o.ID)
	snap.FilledCount = 42
	if got, _ := om.Get(o.ID); got.FilledCount != 0 {
		t.Fatalf("内部状态被快照改写污染: filled = %d", got.FilledCount)
	}

	// 成交累加与查询交错执行，读到的进度必须始终一致
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				om.ApplyFill("exch-a", 1, decimal.NewFromFloat(0.80))
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if got, ok := om.GetByExchangeID("exch-a"); ok && got.FilledCount > got.Count {
					t.Errorf("成交数量越界: %d > %d", got.FilledCount, got.Count)
				}
				for _, a := range om.ActiveOrders("") {
					_ = a.IsActive()
				}
			}
		}()
	}
	wg.Wait()

	final, _ := om.Get(o.ID)
	if final.Status != domain.OrderStatusFilled || final.FilledCount != 100 {
		t.Errorf("最终状态 = %s filled = %d, 期望 FILLED/100", final.Status, final.FilledCount)
	}
}

// TestOrderManagerClearCompleted 清理已完结订单
func TestOrderManagerClearCompleted(t *testing.T) {
	om := NewOrderManager()
	o := newOrder(t, "KXBTC-A", 0.80)
	om.Add(o)
	om.Update(o.ID, domain.OrderStatusRejected, 0, decimal.Zero)

	if n := om.ClearCompleted(); n != 1 {
		t.Errorf("清理数量 = %d, 期望 1", n)
	}
	if _, ok := om.Get(o.ID); ok {
		t.Error("清理后不应再查到订单")
	}
}

func newTrackedPosition(ticker string) *domain.Position {
	return domain.NewPosition(ticker, domain.SideYes, "entry-1",
		decimal.NewFromFloat(0.80), 100,
		decimal.NewFromFloat(0.792), decimal.NewFromFloat(0.816))
}

// TestTrackerLifecycle OPEN -> CLOSING -> CLOSED 状态迁移
func TestTrackerLifecycle(t *testing.T) {
	pt := NewPositionTracker()
	p := newTrackedPosition("KXBTC-A")
	pt.Add(p)

	if !pt.HasMarket("KXBTC-A") {
		t.Error("市场应有未平仓持仓")
	}
	if !pt.MarkClosing(p.ID) {
		t.Fatal("OPEN 持仓应可标记为 CLOSING")
	}
	if pt.MarkClosing(p.ID) {
		t.Error("CLOSING 持仓不应再次标记")
	}

	closed, ok := pt.Close(p.ID, decimal.NewFromFloat(0.816), domain.ExitTakeProfit)
	if !ok {
		t.Fatal("平仓失败")
	}
	if closed.Status != domain.PositionStatusClosed {
		t.Errorf("状态 = %s, 期望 CLOSED", closed.Status)
	}
	// (0.816 - 0.80) × 100 = 1.6
	if !closed.RealizedPnL.Equal(decimal.NewFromFloat(1.6)) {
		t.Errorf("已实现盈亏 = %s, 期望 1.6", closed.RealizedPnL)
	}
	if pt.OpenCount() != 0 {
		t.Error("平仓后不应有未平仓持仓")
	}
	if pt.HasMarket("KXBTC-A") {
		t.Error("平仓后市场不应再有持仓")
	}
	// 已平仓仍可按 id 查询
	if _, ok := pt.Get(p.ID); !ok {
		t.Error("已平仓持仓应可查询")
	}
}

// TestTrackerByOrderID 按关联订单 id 归属持仓
func TestTrackerByOrderID(t *testing.T) {
	pt := NewPositionTracker()
	p := newTrackedPosition("KXBTC-A")
	p.StopOrderID = "stop-1"
	p.TakeOrderID = "take-1"
	pt.Add(p)

	for _, id := range []string{"entry-1", "stop-1", "take-1"} {
		if got, ok := pt.ByOrderID(id); !ok || got.ID != p.ID {
			t.Errorf("订单 %s 应归属持仓 %s", id, p.ID)
		}
	}
	if _, ok := pt.ByOrderID("unknown"); ok {
		t.Error("未知订单 id 不应命中")
	}

	// 平仓后仍可按平仓单 id 归属
	p.ExitOrderID = "exit-1"
	pt.Close(p.ID, decimal.NewFromFloat(0.70), domain.ExitStopLoss)
	if got, ok := pt.ByOrderID("exit-1"); !ok || got.ID != p.ID {
		t.Error("已平仓持仓应仍可按平仓单 id 归属")
	}
}

// TestTrackerExposure 名义敞口与浮动盈亏合计
func TestTrackerExposure(t *testing.T) {
	pt := NewPositionTracker()
	a := newTrackedPosition("KXBTC-A") // 0.80 × 100 = 80
	b := newTrackedPosition("KXETH-B") // 80
	pt.Add(a)
	pt.Add(b)

	if !pt.TotalExposure().Equal(decimal.NewFromInt(160)) {
		t.Errorf("总敞口 = %s, 期望 160", pt.TotalExposure())
	}

	prices := map[string]decimal.Decimal{
		"KXBTC-A": decimal.NewFromFloat(0.85), // +5
		"KXETH-B": decimal.NewFromFloat(0.78), // -2
	}
	if !pt.UnrealizedPnL(prices).Equal(decimal.NewFromInt(3)) {
		t.Errorf("浮动盈亏 = %s, 期望 3", pt.UnrealizedPnL(prices))
	}

	// 没有报价的市场不计入
	delete(prices, "KXETH-B")
	if !pt.UnrealizedPnL(prices).Equal(decimal.NewFromInt(5)) {
		t.Errorf("浮动盈亏 = %s, 期望 5", pt.UnrealizedPnL(prices))
	}
}
