package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager 协调一组后台服务的停机。
// 上层（shutdown）持有它，并向各个后台服务分发 Handle。
type Manager struct {
	name     string
	logger   *zap.Logger
	wg       sync.WaitGroup
	mu       sync.Mutex
	services map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager 创建一个新的生命周期管理器，name 只用于日志
func NewManager(name string, logger *zap.Logger) *Manager {
	m := &Manager{
		name:     name,
		logger:   logger.Named("lifecycle").With(zap.String("manager", name)),
		services: make(map[string]bool),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// NewServiceHandle 为一个服务注册并返回 Handle，同名服务只能注册一次。
func (m *Manager) NewServiceHandle(name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.services[name] {
		return nil, fmt.Errorf("生命周期管理器 %s: 服务 '%s' 已被注册", m.name, name)
	}
	m.services[name] = true
	m.wg.Add(1)
	m.logger.Debug("服务已注册", zap.String("service", name))

	var once sync.Once
	return &Handle{
		name: name,
		ctx:  m.ctx,
		Close: func() {
			once.Do(func() {
				m.mu.Lock()
				defer m.mu.Unlock()
				delete(m.services, name)
				m.wg.Done()
			})
		},
	}, nil
}

// Go 注册服务并在新的Goroutine里运行 fn，fn 返回时自动 Close
func (m *Manager) Go(name string, fn func(h *Handle)) error {
	h, err := m.NewServiceHandle(name)
	if err != nil {
		return err
	}
	go func() {
		defer h.Close()
		fn(h)
	}()
	return nil
}

// Shutdown 广播停机信号，可以重复调用
func (m *Manager) Shutdown() {
	m.logger.Info("广播停机信号")
	m.cancel()
}

// WaitWithTimeout 等待所有已注册的服务完成，超时则返回仍在运行的服务名。
func (m *Manager) WaitWithTimeout(timeout time.Duration) []string {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		m.mu.Lock()
		defer m.mu.Unlock()
		remaining := make([]string, 0, len(m.services))
		for name := range m.services {
			remaining = append(remaining, name)
		}
		sort.Strings(remaining)
		return remaining
	}
}
