// Package sigchan 不携带数据的事件信号通道
package sigchan

// Chan 信号通道，发送永不阻塞
// 缓冲占满时直接丢弃: 对停机请求这类幂等事件，丢弃等价于合并
type Chan struct {
	ch chan struct{}
}

// New 创建信号通道，buffer 为可积压的信号数
func New(buffer int) *Chan {
	return &Chan{ch: make(chan struct{}, buffer)}
}

// Emit 发出一次信号，通道已满时丢弃
func (c *Chan) Emit() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

// C 供 select 使用的接收端
func (c *Chan) C() <-chan struct{} {
	return c.ch
}
