package domain

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Account 账户资金状态，内部加锁，可被多个 goroutine 并发访问
type Account struct {
	mu sync.Mutex

	balance     decimal.Decimal // 总余额（美元）
	lockedFunds decimal.Decimal // 被未决订单/持仓锁定的资金

	dayStartBalance   decimal.Decimal // 当日起始余额，用于计算日亏损比例
	dailyPnL          decimal.Decimal
	dailyTrades       int
	consecutiveLosses int
	lastReset         time.Time
}

// NewAccount 以初始余额创建账户
func NewAccount(balance decimal.Decimal) *Account {
	return &Account{
		balance:         balance,
		dayStartBalance: balance,
		lastReset:       time.Now(),
	}
}

// Balance 总余额
func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Available 可用资金 = 总余额 - 锁定资金
func (a *Account) Available() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance.Sub(a.lockedFunds)
}

// LockedFunds 当前锁定资金
func (a *Account) LockedFunds() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lockedFunds
}

// SetBalance 用交易所返回的余额覆盖本地值
func (a *Account) SetBalance(balance decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = balance
	if a.dayStartBalance.IsZero() {
		a.dayStartBalance = balance
	}
}

// LockFunds 锁定资金，可用资金不足时报错
func (a *Account) LockFunds(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("锁定金额必须为正: %s", amount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	available := a.balance.Sub(a.lockedFunds)
	if amount.GreaterThan(available) {
		return errors.Errorf("可用资金不足: 需要 %s, 可用 %s", amount, available)
	}
	a.lockedFunds = a.lockedFunds.Add(amount)
	return nil
}

// UnlockFunds 解锁资金，超额解锁时报错
func (a *Account) UnlockFunds(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("解锁金额必须为正: %s", amount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount.GreaterThan(a.lockedFunds) {
		return errors.Errorf("解锁金额超过锁定资金: %s > %s", amount, a.lockedFunds)
	}
	a.lockedFunds = a.lockedFunds.Sub(amount)
	return nil
}

// RecordTrade 记录一笔已实现盈亏:
// 更新余额、日内统计，亏损累加连败计数，盈利清零
func (a *Account) RecordTrade(pnl decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = a.balance.Add(pnl)
	a.dailyPnL = a.dailyPnL.Add(pnl)
	a.dailyTrades++
	if pnl.IsNegative() {
		a.consecutiveLosses++
	} else {
		a.consecutiveLosses = 0
	}
}

// DailyPnL 当日已实现盈亏
func (a *Account) DailyPnL() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dailyPnL
}

// DailyPnLPct 当日盈亏相对起始余额的比例
func (a *Account) DailyPnLPct() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dayStartBalance.IsZero() {
		return decimal.Zero
	}
	return a.dailyPnL.Div(a.dayStartBalance)
}

// ConsecutiveLosses 当前连续亏损次数
func (a *Account) ConsecutiveLosses() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutiveLosses
}

// DailyTrades 当日成交笔数
func (a *Account) DailyTrades() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dailyTrades
}

// ResetDaily 在交易日切换时重置日内统计
func (a *Account) ResetDaily() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dayStartBalance = a.balance
	a.dailyPnL = decimal.Zero
	a.dailyTrades = 0
	a.lastReset = time.Now()
}

// AccountSnapshot 某一时刻的账户快照
type AccountSnapshot struct {
	Timestamp         time.Time       `json:"timestamp"`
	Balance           decimal.Decimal `json:"balance"`
	LockedFunds       decimal.Decimal `json:"locked_funds"`
	Available         decimal.Decimal `json:"available"`
	DailyPnL          decimal.Decimal `json:"daily_pnl"`
	DailyTrades       int             `json:"daily_trades"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	OpenPositions     int             `json:"open_positions"`
}

// Snapshot 生成账户快照，持仓数由调用方补充
func (a *Account) Snapshot(openPositions int) AccountSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AccountSnapshot{
		Timestamp:         time.Now(),
		Balance:           a.balance,
		LockedFunds:       a.lockedFunds,
		Available:         a.balance.Sub(a.lockedFunds),
		DailyPnL:          a.dailyPnL,
		DailyTrades:       a.dailyTrades,
		ConsecutiveLosses: a.consecutiveLosses,
		OpenPositions:     openPositions,
	}
}
