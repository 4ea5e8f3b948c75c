package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"candle-engine/infrastructure/logger"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// named 可选：组件名用于日志与健康检查。
type named interface {
	Name() string
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// Len 已注册组件数
func (m *LifecycleManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.components)
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			return fmt.Errorf("start %s failed: %w", componentName(component, i), err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", componentName(m.components[i], i), err))
		}
	}
	return errors.Join(errs...)
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", componentName(component, i), err)
		}
	}
	return nil
}

func componentName(c Lifecycle, i int) string {
	if n, ok := c.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("component %d", i)
}

// httpServerComponent HTTP服务器组件；监听失败在 Start 中直接返回。
type httpServerComponent struct {
	name            string
	handler         http.Handler
	addr            string
	shutdownTimeout time.Duration
	logger          *logger.Logger

	mu       sync.Mutex
	server   *http.Server
	started  bool
	serveErr error
}

func (h *httpServerComponent) Name() string { return h.name }

// Addr 实际监听地址（addr 为 :0 时有用）。
func (h *httpServerComponent) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return h.addr
	}
	return h.server.Addr
}

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", h.name, h.addr, err)
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.server = srv

	go func() {
		h.logger.Info("http server listening", zap.String("component", h.name), zap.String("addr", srv.Addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "serve",
			})
			h.mu.Lock()
			h.serveErr = err
			h.mu.Unlock()
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.server == nil {
		return nil
	}

	timeout := h.shutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Info("http server stopped", zap.String("component", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.serveErr != nil {
		return h.serveErr
	}
	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// runnerComponent 把阻塞式 Run(ctx) 包装为组件。
// prepare 在 Start 中同步执行（如订阅 topic），失败即启动失败；
// run 非 ctx 取消导致的退出会写入 errs。
type runnerComponent struct {
	name    string
	prepare func(ctx context.Context) error
	run     func(ctx context.Context) error
	logger  *logger.Logger
	errs    chan<- error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	exitErr error
}

func (r *runnerComponent) Name() string { return r.name }

func (r *runnerComponent) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return nil
	}

	rctx, cancel := context.WithCancel(ctx)
	if r.prepare != nil {
		if err := r.prepare(rctx); err != nil {
			cancel()
			return err
		}
	}
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		err := r.run(rctx)
		if err == nil || errors.Is(err, context.Canceled) {
			if rctx.Err() == nil {
				err = fmt.Errorf("%s exited", r.name)
			} else {
				return
			}
		}
		r.mu.Lock()
		r.exitErr = err
		r.mu.Unlock()
		r.logger.LogError(err, map[string]interface{}{"component": r.name})
		if r.errs != nil {
			select {
			case r.errs <- fmt.Errorf("%s: %w", r.name, err):
			default:
			}
		}
	}(r.done)
	return nil
}

func (r *runnerComponent) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("%s did not stop in time", r.name)
	}
}

func (r *runnerComponent) Health() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return fmt.Errorf("%s not started", r.name)
	}
	return r.exitErr
}

// funcComponent 只有 Stop 的组件（关闭总线、数据库连接等）。
type funcComponent struct {
	name string
	stop func() error
}

func (f funcComponent) Name() string                { return f.name }
func (f funcComponent) Start(context.Context) error { return nil }
func (f funcComponent) Stop() error                 { return f.stop() }
func (f funcComponent) Health() error               { return nil }
