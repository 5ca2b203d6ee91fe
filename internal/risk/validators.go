package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
)

// maxOrderNotional 单笔订单名义金额的硬上限（美元）
var maxOrderNotional = decimal.NewFromInt(10000)

// maxSlippagePct 成交滑点上限
var maxSlippagePct = decimal.NewFromFloat(0.05)

// OrderValidator 订单与信号的前置校验
type OrderValidator struct{}

// ValidateOrder 提交前校验订单参数
func (v *OrderValidator) ValidateOrder(o *domain.Order) (bool, string) {
	if !o.Price.IsPositive() {
		return false, fmt.Sprintf("无效价格: %s", o.Price)
	}
	if o.Price.LessThan(domain.MinLimitPrice) || o.Price.GreaterThan(domain.MaxLimitPrice) {
		return false, fmt.Sprintf("价格越界: %s", o.Price)
	}
	if o.Count <= 0 {
		return false, fmt.Sprintf("无效数量: %d", o.Count)
	}
	if o.Notional().GreaterThan(maxOrderNotional) {
		return false, fmt.Sprintf("订单金额过大: %s", o.Notional())
	}
	return true, ""
}

// ValidateSignal 执行前校验信号: 余额充足、金额下限、盈亏比
func (v *OrderValidator) ValidateSignal(sig *domain.TradingSignal, account *domain.Account) (bool, string) {
	notional := sig.Notional()
	available := account.Available()

	if notional.GreaterThan(available) {
		return false, fmt.Sprintf("可用余额不足: 需要 %s, 可用 %s", notional, available)
	}
	if notional.LessThan(domain.MinSignalNotional) {
		return false, fmt.Sprintf("仓位金额过小: %s", notional)
	}

	risk := sig.EntryPrice.Sub(sig.StopLossPrice)
	reward := sig.TakeProfitPrice.Sub(sig.EntryPrice)
	if !risk.IsPositive() {
		return false, "止损无效: 风险 <= 0"
	}
	if !reward.IsPositive() {
		return false, "止盈无效: 收益 <= 0"
	}
	if reward.Div(risk).LessThan(domain.MinRewardRiskRatio) {
		return false, fmt.Sprintf("盈亏比过低: %s", reward.Div(risk).StringFixed(2))
	}
	return true, ""
}

// CheckSlippage 校验成交价与预期价的偏离
func (v *OrderValidator) CheckSlippage(expected, actual decimal.Decimal) (bool, decimal.Decimal) {
	if expected.IsZero() {
		return false, decimal.NewFromInt(1)
	}
	slippage := actual.Sub(expected).Abs().Div(expected)
	return slippage.LessThanOrEqual(maxSlippagePct), slippage
}

// PositionValidator 仓位数量与敞口限制校验
type PositionValidator struct {
	maxPositionSizePct  decimal.Decimal
	maxTotalExposurePct decimal.Decimal
	maxConcurrent       int
}

// NewPositionValidator 创建仓位校验器
func NewPositionValidator(maxPositionSizePct, maxTotalExposurePct float64, maxConcurrent int) *PositionValidator {
	return &PositionValidator{
		maxPositionSizePct:  decimal.NewFromFloat(maxPositionSizePct),
		maxTotalExposurePct: decimal.NewFromFloat(maxTotalExposurePct),
		maxConcurrent:       maxConcurrent,
	}
}

// CanOpenPosition 检查能否开新仓:
// 并发数 / 单仓占比 / 总敞口占比 / 可用余额，按序返回首个不满足项
func (v *PositionValidator) CanOpenPosition(notional decimal.Decimal, account *domain.Account, openPositions int) (bool, string) {
	if openPositions >= v.maxConcurrent {
		return false, fmt.Sprintf("并发仓位已达上限: %d/%d", openPositions, v.maxConcurrent)
	}

	balance := account.Balance()
	maxSingle := balance.Mul(v.maxPositionSizePct)
	if notional.GreaterThan(maxSingle) {
		return false, fmt.Sprintf("单仓金额超限: %s > %s (余额的 %s%%)",
			notional, maxSingle, v.maxPositionSizePct.Mul(decimal.NewFromInt(100)))
	}

	newExposure := account.LockedFunds().Add(notional)
	maxExposure := balance.Mul(v.maxTotalExposurePct)
	if newExposure.GreaterThan(maxExposure) {
		return false, fmt.Sprintf("总敞口超限: %s > %s (余额的 %s%%)",
			newExposure, maxExposure, v.maxTotalExposurePct.Mul(decimal.NewFromInt(100)))
	}

	if notional.GreaterThan(account.Available()) {
		return false, fmt.Sprintf("可用余额不足: %s > %s", notional, account.Available())
	}

	return true, ""
}
