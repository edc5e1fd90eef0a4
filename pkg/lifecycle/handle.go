package lifecycle

import (
	"context"
	"time"
)

// Handle 是分发给每个后台服务的生命周期控制器。
// 它由 Manager 创建，Close 必须在服务的Goroutine退出前调用。
type Handle struct {
	name  string
	ctx   context.Context
	Close func()
}

// Name 返回服务注册时使用的名字
func (h *Handle) Name() string {
	return h.name
}

// Ctx 返回Handle内部的ctx，停机信号到达时被取消
func (h *Handle) Ctx() context.Context {
	return h.ctx
}

// Done 返回一个channel，当生命周期管理器发出停机信号时关闭
func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Err 在Done()关闭后返回上下文被取消的原因
func (h *Handle) Err() error {
	return h.ctx.Err()
}

// Sleep 暂停指定的时长，停机信号到达时提前返回错误。
// 后台循环的休眠都应该走这里。
func (h *Handle) Sleep(duration time.Duration) error {
	if duration <= 0 {
		return h.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-h.Done():
		return h.Err()
	case <-timer.C:
		return nil
	}
}

// Every 每隔 interval 调用一次 fn，直到停机。fn 自身的耗时不计入间隔。
func (h *Handle) Every(interval time.Duration, fn func(ctx context.Context)) {
	for {
		if err := h.Sleep(interval); err != nil {
			return
		}
		fn(h.ctx)
	}
}
