package ratelimit

import (
	"context"
	"testing"
	"time"
)

// TestTokenBucketBurst 初始桶是满的，前 N 次获取不应阻塞
func TestTokenBucketBurst(t *testing.T) {
	tb := NewTokenBucket(5)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := tb.Wait(context.Background()); err != nil {
			t.Fatalf("Wait 失败: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("满桶获取不应阻塞, 耗时 %v", elapsed)
	}
}

// TestTokenBucketDrainBound 速率 N 下连续发起 M 次请求,
// 总耗时不应少于 (M-N)/N 秒
func TestTokenBucketDrainBound(t *testing.T) {
	const rate = 10.0
	const calls = 14

	tb := NewTokenBucket(rate)
	start := time.Now()
	for i := 0; i < calls; i++ {
		if err := tb.Wait(context.Background()); err != nil {
			t.Fatalf("Wait 失败: %v", err)
		}
	}
	elapsed := time.Since(start)

	minElapsed := time.Duration(float64(calls-rate) / rate * float64(time.Second))
	if elapsed < minElapsed {
		t.Errorf("速率限制过松: %d 次请求耗时 %v, 期望至少 %v", calls, elapsed, minElapsed)
	}
}

// TestTokenBucketAllow 令牌耗尽后 Allow 应返回 false, 等待后恢复
func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucket(2)

	if !tb.Allow() {
		t.Fatal("第一次 Allow 应成功")
	}
	if !tb.Allow() {
		t.Fatal("第二次 Allow 应成功")
	}
	if tb.Allow() {
		t.Error("令牌耗尽后 Allow 应失败")
	}

	// 等待半秒补充一个令牌 (速率 2/s)
	time.Sleep(600 * time.Millisecond)
	if !tb.Allow() {
		t.Error("补充后 Allow 应成功")
	}
}

// TestTokenBucketWaitCancel 上下文取消应中断等待
func TestTokenBucketWaitCancel(t *testing.T) {
	tb := NewTokenBucket(1)
	if !tb.Allow() {
		t.Fatal("初始令牌获取失败")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Error("取消后的 Wait 应返回错误")
	}
}

// TestSlidingWindowLimit 窗口内超过限制应被拒绝
func TestSlidingWindowLimit(t *testing.T) {
	sw := NewSlidingWindow(3, time.Second)

	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Fatalf("第 %d 次请求应被允许", i+1)
		}
	}
	if sw.Allow() {
		t.Error("超过窗口限制的请求应被拒绝")
	}
	if got := sw.GetRemaining(); got != 0 {
		t.Errorf("剩余请求数 = %d, 期望 0", got)
	}
}

// TestSlidingWindowExpiry 窗口滑动后应重新允许请求
func TestSlidingWindowExpiry(t *testing.T) {
	sw := NewSlidingWindow(1, 100*time.Millisecond)

	if !sw.Allow() {
		t.Fatal("第一次请求应被允许")
	}
	if sw.Allow() {
		t.Fatal("窗口内第二次请求应被拒绝")
	}

	time.Sleep(150 * time.Millisecond)
	if !sw.Allow() {
		t.Error("窗口滑动后请求应被允许")
	}
}
