package orderbook

import (
	"sync"
	"time"

	"github.com/betbot/kalshibot/internal/domain"
)

// Level 订单簿价位，价格为分，数量为张
type Level struct {
	PriceCents int64
	Size       int64
}

// Book 单个市场的本地订单簿
// yes/no 两边各自维护 价格(分) -> 数量 的映射
// YES 买一价 = yes 边最高价，隐含 YES 卖一价 = 100 - no 边最高价
type Book struct {
	mu        sync.RWMutex
	ticker    string
	yes       map[int64]int64
	no        map[int64]int64
	updatedAt time.Time
}

// New 创建空订单簿
func New(ticker string) *Book {
	return &Book{
		ticker: ticker,
		yes:    make(map[int64]int64),
		no:     make(map[int64]int64),
	}
}

// Ticker 所属市场
func (b *Book) Ticker() string {
	return b.ticker
}

// ApplySnapshot 用快照替换两边的全部价位
func (b *Book) ApplySnapshot(yes, no []Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.yes = make(map[int64]int64, len(yes))
	for _, lv := range yes {
		if lv.Size > 0 {
			b.yes[lv.PriceCents] = lv.Size
		}
	}
	b.no = make(map[int64]int64, len(no))
	for _, lv := range no {
		if lv.Size > 0 {
			b.no[lv.PriceCents] = lv.Size
		}
	}
	b.updatedAt = time.Now()
}

// ApplyDelta 增量更新某一价位的数量，结果 <= 0 时移除该价位
func (b *Book) ApplyDelta(side domain.OrderSide, priceCents, delta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.yes
	if side == domain.SideNo {
		levels = b.no
	}

	size := levels[priceCents] + delta
	if size <= 0 {
		delete(levels, priceCents)
	} else {
		levels[priceCents] = size
	}
	b.updatedAt = time.Now()
}

// BestYesBid YES 买一价（分），空边返回 false
func (b *Book) BestYesBid() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maxKey(b.yes)
}

// BestYesAsk 隐含的 YES 卖一价（分）= 100 - no 边最高价，空边返回 false
func (b *Book) BestYesAsk() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	best, ok := maxKey(b.no)
	if !ok {
		return 0, false
	}
	return 100 - best, true
}

// TopOfBook 在同一把锁内取出一致的买一/卖一对
func (b *Book) TopOfBook() (bid, ask int64, hasBid, hasAsk bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, hasBid = maxKey(b.yes)
	var bestNo int64
	bestNo, hasAsk = maxKey(b.no)
	if hasAsk {
		ask = 100 - bestNo
	}
	return bid, ask, hasBid, hasAsk
}

// SizeAt 某一价位的挂单数量
func (b *Book) SizeAt(side domain.OrderSide, priceCents int64) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == domain.SideNo {
		return b.no[priceCents]
	}
	return b.yes[priceCents]
}

// Depth 某一边的价位数
func (b *Book) Depth(side domain.OrderSide) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == domain.SideNo {
		return len(b.no)
	}
	return len(b.yes)
}

// UpdatedAt 最后一次更新时间
func (b *Book) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

func maxKey(levels map[int64]int64) (int64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	var best int64
	first := true
	for price := range levels {
		if first || price > best {
			best = price
			first = false
		}
	}
	return best, true
}
