package persistence

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
)

func newTrade(id string, openedAt time.Time) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		PositionID: id,
		Ticker:     "KXBTC-TEST",
		Side:       domain.SideYes,
		EntryPrice: decimal.NewFromFloat(0.80),
		Count:      100,
		Confidence: decimal.NewFromInt(80),
		OpenedAt:   openedAt,
	}
}

// TestStoreMemoryMode 未配置路径时降级为纯内存模式且照常工作
func TestStoreMemoryMode(t *testing.T) {
	s := Open("")
	defer s.Close()

	if s.Durable() {
		t.Error("无路径时不应有落盘存储")
	}

	s.SaveTrade(newTrade("t-1", time.Now()))
	if _, ok := s.Trade("t-1"); !ok {
		t.Error("内存模式下交易记录应可查询")
	}
	// 事件写入在内存模式下是空操作，但不能崩
	s.LogEvent("INFO", "test", "hello")
}

// TestStoreTradeRoundTrip 交易记录写入后重开数据库可恢复
func TestStoreTradeRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := Open(dir)
	if !s.Durable() {
		t.Fatal("应成功打开数据库")
	}

	opened := time.Now().UTC().Truncate(time.Second)
	tr := newTrade("t-1", opened)
	s.SaveTrade(tr)

	exit := decimal.NewFromFloat(0.816)
	pnl := decimal.NewFromFloat(1.6)
	closedAt := opened.Add(time.Hour)
	tr.ExitPrice = &exit
	tr.RealizedPnL = &pnl
	tr.ExitReason = domain.ExitTakeProfit
	tr.ClosedAt = &closedAt
	s.UpdateTrade(tr)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// 重新打开并恢复
	s2 := Open(dir)
	defer s2.Close()
	if n := s2.LoadTrades(); n != 1 {
		t.Fatalf("恢复交易数 = %d, 期望 1", n)
	}
	got, ok := s2.Trade("t-1")
	if !ok {
		t.Fatal("恢复后应可查询交易")
	}
	if got.ExitReason != domain.ExitTakeProfit {
		t.Errorf("平仓原因 = %s, 期望 TAKE_PROFIT", got.ExitReason)
	}
	if got.RealizedPnL == nil || !got.RealizedPnL.Equal(pnl) {
		t.Error("已实现盈亏应完整恢复")
	}
	if got.ExitPrice == nil || !got.ExitPrice.Equal(exit) {
		t.Error("平仓价应完整恢复")
	}
}

// TestStoreDailyTradeCount 按 UTC 日期统计开仓笔数
func TestStoreDailyTradeCount(t *testing.T) {
	s := Open("")
	defer s.Close()

	today := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	s.SaveTrade(newTrade("t-1", today))
	s.SaveTrade(newTrade("t-2", today.Add(2*time.Hour)))
	s.SaveTrade(newTrade("t-3", today.Add(-24*time.Hour))) // 昨天

	if n := s.DailyTradeCount(today); n != 2 {
		t.Errorf("今日交易数 = %d, 期望 2", n)
	}
	if n := s.DailyTradeCount(today.Add(-24 * time.Hour)); n != 1 {
		t.Errorf("昨日交易数 = %d, 期望 1", n)
	}
}

// TestStoreSnapshotRing 快照数量超上限时丢弃最旧的
func TestStoreSnapshotRing(t *testing.T) {
	s := Open("")
	defer s.Close()

	for i := 0; i < maxSnapshots+10; i++ {
		s.SaveSnapshot(domain.AccountSnapshot{
			Timestamp: time.Now(),
			Balance:   decimal.NewFromInt(int64(i)),
		})
	}

	latest, ok := s.LatestSnapshot()
	if !ok {
		t.Fatal("应有最新快照")
	}
	if !latest.Balance.Equal(decimal.NewFromInt(int64(maxSnapshots + 9))) {
		t.Errorf("最新快照余额 = %s, 期望 %d", latest.Balance, maxSnapshots+9)
	}
	if len(s.snapshots) != maxSnapshots {
		t.Errorf("内存快照数 = %d, 期望 %d", len(s.snapshots), maxSnapshots)
	}
}
