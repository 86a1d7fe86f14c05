package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/logging"
)

// HostKey Web 主机的绑定 key
var HostKey = di.NewKey[*Host]("web.host")

// Host Web 主机
type Host struct {
	server *di.Context
	engine *gin.Engine
	addr   string
	http   *http.Server
	logger logging.Logger

	mapOnce sync.Once
	mapErr  error

	mu       sync.RWMutex
	listener net.Listener
}

func newHost(server *di.Context, engine *gin.Engine, addr string, logger logging.Logger) *Host {
	return &Host{
		server: server,
		engine: engine,
		addr:   addr,
		http:   &http.Server{Handler: engine},
		logger: logger,
	}
}

// Name 实现 hosting.Named
func (h *Host) Name() string { return "web" }

// Context 返回主机的 Server 作用域上下文
func (h *Host) Context() *di.Context {
	return h.server
}

// Address 返回实际监听地址，未启动时返回空字符串
func (h *Host) Address() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// ServeHTTP 直接处理请求，不经过监听端口
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

// MapControllers 解析全部控制器并注册路由，只执行一次
func (h *Host) MapControllers(ctx context.Context) error {
	h.mapOnce.Do(func() {
		for _, b := range h.server.FindByTag(ControllerTag) {
			v, err := h.server.Get(ctx, b.Key())
			if err != nil {
				h.mapErr = fmt.Errorf("failed to resolve controller %s: %w", b.Key(), err)
				return
			}
			ctrl, ok := v.(Controller)
			if !ok {
				h.mapErr = fmt.Errorf("controller %s does not implement RegisterRoutes (%T)", b.Key(), v)
				return
			}
			ctrl.RegisterRoutes(h.engine)
			h.logger.Debug("Mapped controller routes", logging.String("controller", b.Key()))
		}
	})
	return h.mapErr
}

// Start 启动 Web 主机，阻塞直到 ctx 取消或监听失败
func (h *Host) Start(ctx context.Context) error {
	if err := h.MapControllers(ctx); err != nil {
		return fmt.Errorf("web: failed to map controllers: %w", err)
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen on %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := h.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	h.logger.Info("Web host started", logging.String("address", ln.Addr().String()))

	select {
	case err := <-errCh:
		if err != nil {
			h.logger.Error("Web host error", logging.Err(err))
			return err
		}
		return nil
	case <-ctx.Done():
		// Stop 会负责关闭
		return nil
	}
}

// Stop 停止 Web 主机
func (h *Host) Stop(ctx context.Context) error {
	h.logger.Info("Stopping web host")
	defer h.server.Close()

	if err := h.http.Shutdown(ctx); err != nil {
		h.logger.Error("Failed to shutdown web host gracefully", logging.Err(err))
		return err
	}

	h.logger.Info("Web host stopped")
	return nil
}
