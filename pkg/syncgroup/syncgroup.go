// Package syncgroup 后台循环的统一启动与等待
package syncgroup

import "sync"

// SyncGroup 管理一组长驻 goroutine 的生命周期
// 先 Add 注册循环函数，Run 一次性全部启动，Wait 等待全部退出
// 循环函数自行监听 context 决定何时返回
type SyncGroup struct {
	mu      sync.Mutex
	fns     []func()
	started bool

	wg sync.WaitGroup
}

// NewSyncGroup 创建空组
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 注册一个循环函数，必须在 Run 之前调用
// Run 之后的 Add 被忽略
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run 启动全部已注册的循环，重复调用为空操作
func (g *SyncGroup) Run() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.started = true

	g.wg.Add(len(g.fns))
	for _, fn := range g.fns {
		go func(f func()) {
			defer g.wg.Done()
			f()
		}(fn)
	}
}

// Wait 阻塞直到全部循环退出
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
