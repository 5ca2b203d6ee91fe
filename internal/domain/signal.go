package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SignalStrength 信号强度分档
type SignalStrength string

const (
	StrengthWeak   SignalStrength = "WEAK"
	StrengthMedium SignalStrength = "MEDIUM"
	StrengthStrong SignalStrength = "STRONG"
)

var (
	// MinSignalNotional 信号最小名义金额（美元）
	MinSignalNotional = decimal.NewFromInt(10)
	// MinRewardRiskRatio 最小盈亏比
	MinRewardRiskRatio = decimal.NewFromFloat(1.5)
)

// TradingSignal 入场信号
type TradingSignal struct {
	Ticker          string
	Side            OrderSide
	EntryPrice      decimal.Decimal
	Count           int
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	Confidence      decimal.Decimal // 0-100
	Strength        SignalStrength
	Rationale       string
	CreatedAt       time.Time
}

// Notional 信号名义金额
func (s *TradingSignal) Notional() decimal.Decimal {
	return s.EntryPrice.Mul(decimal.NewFromInt(int64(s.Count)))
}

// Validate 校验信号自身的一致性:
// 价格顺序 stop < entry < take、价格区间、数量、最小金额和盈亏比
func (s *TradingSignal) Validate() error {
	if s.Ticker == "" {
		return errors.New("信号缺少 ticker")
	}
	if s.Count <= 0 {
		return errors.Errorf("信号数量必须为正: %d", s.Count)
	}
	for _, p := range []struct {
		name  string
		price decimal.Decimal
	}{
		{"entry", s.EntryPrice},
		{"stop_loss", s.StopLossPrice},
		{"take_profit", s.TakeProfitPrice},
	} {
		if p.price.LessThan(MinLimitPrice) || p.price.GreaterThan(MaxLimitPrice) {
			return errors.Errorf("%s 价格越界: %s", p.name, p.price)
		}
	}
	if !s.StopLossPrice.LessThan(s.EntryPrice) || !s.EntryPrice.LessThan(s.TakeProfitPrice) {
		return errors.Errorf("价格顺序必须满足 stop < entry < take: %s / %s / %s",
			s.StopLossPrice, s.EntryPrice, s.TakeProfitPrice)
	}
	if s.Notional().LessThan(MinSignalNotional) {
		return errors.Errorf("信号金额低于下限 %s: %s", MinSignalNotional, s.Notional())
	}

	// 盈亏比 = (take - entry) / (entry - stop)
	risk := s.EntryPrice.Sub(s.StopLossPrice)
	reward := s.TakeProfitPrice.Sub(s.EntryPrice)
	if risk.IsZero() || reward.Div(risk).LessThan(MinRewardRiskRatio) {
		return errors.Errorf("盈亏比低于 %s: reward=%s risk=%s", MinRewardRiskRatio, reward, risk)
	}
	return nil
}
