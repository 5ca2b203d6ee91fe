package cache

import (
	"testing"
	"time"
)

// TestCacheSetGet 基本读写与未命中
func TestCacheSetGet(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)

	c.Set("a", 1, 0)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v, 期望 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("未写入的 key 不应命中")
	}
	if c.Size() != 1 {
		t.Errorf("Size = %d, 期望 1", c.Size())
	}
}

// TestCacheExpiry 过期项应视同不存在
func TestCacheExpiry(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)

	c.Set("a", 1, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("过期项不应命中")
	}
}

// TestCacheDeleteClear 删除与清空
func TestCacheDeleteClear(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("删除后不应命中")
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("清空后 Size = %d", c.Size())
	}
}

// TestThrottle 窗口内同一 key 只放行一次
func TestThrottle(t *testing.T) {
	th := NewThrottle(time.Minute)

	if !th.Allow("k") {
		t.Fatal("首次调用应放行")
	}
	if th.Allow("k") {
		t.Error("窗口内重复调用不应放行")
	}
	if !th.Allow("other") {
		t.Error("不同 key 不应互相影响")
	}

	th.Reset("k")
	if !th.Allow("k") {
		t.Error("重置后应再次放行")
	}
}

// TestThrottleExpiry 窗口过期后应再次放行
func TestThrottleExpiry(t *testing.T) {
	th := NewThrottle(5 * time.Millisecond)

	th.Allow("k")
	time.Sleep(20 * time.Millisecond)
	if !th.Allow("k") {
		t.Error("窗口过期后应放行")
	}
}
