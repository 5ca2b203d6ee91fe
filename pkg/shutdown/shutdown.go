// Package shutdown 停机清理回调的注册与分阶段执行
package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/kalshibot/pkg/logger"
)

// Handler 停机清理函数，应在 ctx 超时前返回
type Handler func(ctx context.Context)

// Manager 收集清理回调，停机时先串行执行前置回调，再并发执行其余回调
type Manager struct {
	mu       sync.Mutex
	first    []Handler
	handlers []Handler
}

// NewManager 创建管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdownFirst 注册前置清理回调，按注册顺序串行执行，
// 全部完成后才开始并发回调。用于必须抢在资源拆除之前完成的动作
func (m *Manager) OnShutdownFirst(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.first = append(m.first, h)
}

// OnShutdown 注册一个并发执行的清理回调
func (m *Manager) OnShutdown(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Shutdown 执行全部回调: 前置回调串行跑完后其余回调并发执行，
// 阻塞直到完成或 ctx 超时
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	first := make([]Handler, len(m.first))
	copy(first, m.first)
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	if len(first)+len(handlers) == 0 {
		return
	}
	logger.Infof("[shutdown] 执行清理回调: 前置 %d 个, 并发 %d 个", len(first), len(handlers))

	for _, h := range first {
		if ctx.Err() != nil {
			logger.Warnf("[shutdown] 清理超时: %v", ctx.Err())
			return
		}
		h(ctx)
	}
	if len(handlers) == 0 {
		logger.Infof("[shutdown] 清理完成")
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h Handler) {
			defer wg.Done()
			h(ctx)
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("[shutdown] 清理完成")
	case <-ctx.Done():
		logger.Warnf("[shutdown] 清理超时: %v", ctx.Err())
	}
}
