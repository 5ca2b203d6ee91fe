package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

// TestNewLimitOrderValidation 限价单创建时的参数校验
func TestNewLimitOrderValidation(t *testing.T) {
	cases := []struct {
		name    string
		price   float64
		count   int
		wantErr bool
	}{
		{"正常订单", 0.85, 100, false},
		{"下边界", 0.01, 1, false},
		{"上边界", 0.99, 1, false},
		{"价格过低", 0.005, 10, true},
		{"价格过高", 1.00, 10, true},
		{"数量为零", 0.50, 0, true},
		{"数量为负", 0.50, -3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, err := NewLimitOrder("KXBTC-TEST", SideYes, ActionBuy, decimal.NewFromFloat(tc.price), tc.count)
			if tc.wantErr {
				if err == nil {
					t.Errorf("%s: 期望报错", tc.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s: 创建失败: %v", tc.name, err)
			}
			if o.Status != OrderStatusPending {
				t.Errorf("初始状态 = %s, 期望 PENDING", o.Status)
			}
			if o.ID == "" || o.ClientOrderID == "" {
				t.Error("订单 id 不应为空")
			}
		})
	}
}

// TestOrderStatusTerminal 终态判定
func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected}
	active := []OrderStatus{OrderStatusPending, OrderStatusSubmitted, OrderStatusPartial}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s 应为终态", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s 不应为终态", s)
		}
	}
}

// TestStatusFromKalshi 交易所状态到本地状态机的映射
func TestStatusFromKalshi(t *testing.T) {
	cases := []struct {
		status    string
		remaining int
		want      OrderStatus
	}{
		{"resting", 100, OrderStatusSubmitted},
		{"pending", 100, OrderStatusPending},
		{"canceled", 0, OrderStatusCancelled},
		{"executed", 0, OrderStatusFilled},
		{"executed", 40, OrderStatusPartial},
		{"rejected", 0, OrderStatusRejected},
		{"something_new", 0, OrderStatusSubmitted},
	}
	for _, tc := range cases {
		if got := StatusFromKalshi(tc.status, tc.remaining); got != tc.want {
			t.Errorf("StatusFromKalshi(%q, %d) = %s, 期望 %s", tc.status, tc.remaining, got, tc.want)
		}
	}
}

// TestOrderNotional 名义金额 = 价格 × 数量
func TestOrderNotional(t *testing.T) {
	o, err := NewLimitOrder("KXBTC-TEST", SideYes, ActionBuy, decimal.NewFromFloat(0.80), 625)
	if err != nil {
		t.Fatalf("创建订单失败: %v", err)
	}
	if got := o.Notional(); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("名义金额 = %s, 期望 500", got)
	}
}
