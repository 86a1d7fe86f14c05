package web

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
)

// Builder Web 主机构建器（基于 Gin）
type Builder struct {
	core.BaseBuilder
	server      *di.Context
	addr        string
	engine      *gin.Engine
	controllers []string
	errors      []error
}

// NewBuilder 创建 Web 构建器
// 主机拥有一个 Server 作用域的子上下文，每个请求再派生 Request 作用域的上下文
func NewBuilder(ctx *core.BuildContext) *Builder {
	// 设置 Gin 为发布模式（默认）
	gin.SetMode(gin.ReleaseMode)

	server := ctx.Context().NewChild("web", di.WithScope(di.ScopeServer))
	engine := gin.New()

	// 默认中间件：恢复 panic，建立请求上下文
	engine.Use(gin.Recovery(), RequestScope(server))

	return &Builder{
		BaseBuilder: core.NewBaseBuilder(ctx),
		server:      server,
		addr:        ":8080",
		engine:      engine,
	}
}

// Context 返回主机的 Server 作用域上下文
func (b *Builder) Context() *di.Context {
	return b.server
}

// UsePort 设置端口
func (b *Builder) UsePort(port int) *Builder {
	b.addr = fmt.Sprintf(":%d", port)
	return b
}

// UseAddress 设置监听地址，例如 "127.0.0.1:0"
func (b *Builder) UseAddress(addr string) *Builder {
	b.addr = addr
	return b
}

// AddController 在 Server 上下文中注册控制器（单例），启动时调用其 RegisterRoutes
//
//	b.AddController("controllers.user", NewUserController)
func (b *Builder) AddController(key string, class any) *Builder {
	for _, existing := range b.controllers {
		if existing == key {
			b.errors = append(b.errors, fmt.Errorf("controller '%s' already registered", key))
			return b
		}
	}
	b.controllers = append(b.controllers, key)
	b.server.MustBind(key).ToClass(class).InScope(di.ScopeSingleton).Tag(ControllerTag)
	return b
}

// Get 注册 GET 路由
func (b *Builder) Get(path string, handlers ...gin.HandlerFunc) *Builder {
	b.engine.GET(path, handlers...)
	return b
}

// Post 注册 POST 路由
func (b *Builder) Post(path string, handlers ...gin.HandlerFunc) *Builder {
	b.engine.POST(path, handlers...)
	return b
}

// Put 注册 PUT 路由
func (b *Builder) Put(path string, handlers ...gin.HandlerFunc) *Builder {
	b.engine.PUT(path, handlers...)
	return b
}

// Delete 注册 DELETE 路由
func (b *Builder) Delete(path string, handlers ...gin.HandlerFunc) *Builder {
	b.engine.DELETE(path, handlers...)
	return b
}

// Patch 注册 PATCH 路由
func (b *Builder) Patch(path string, handlers ...gin.HandlerFunc) *Builder {
	b.engine.PATCH(path, handlers...)
	return b
}

// Any 注册任意方法路由
func (b *Builder) Any(path string, handlers ...gin.HandlerFunc) *Builder {
	b.engine.Any(path, handlers...)
	return b
}

// Group 创建路由组
func (b *Builder) Group(relativePath string, handlers ...gin.HandlerFunc) *gin.RouterGroup {
	return b.engine.Group(relativePath, handlers...)
}

// Use 使用全局中间件，在请求上下文建立之后执行
func (b *Builder) Use(middleware ...gin.HandlerFunc) *Builder {
	b.engine.Use(middleware...)
	return b
}

// Static 服务静态文件
func (b *Builder) Static(relativePath, root string) *Builder {
	b.engine.Static(relativePath, root)
	return b
}

// StaticFS 服务静态文件系统
func (b *Builder) StaticFS(relativePath string, fs http.FileSystem) *Builder {
	b.engine.StaticFS(relativePath, fs)
	return b
}

// NoRoute 处理 404
func (b *Builder) NoRoute(handlers ...gin.HandlerFunc) *Builder {
	b.engine.NoRoute(handlers...)
	return b
}

// NoMethod 处理 405
func (b *Builder) NoMethod(handlers ...gin.HandlerFunc) *Builder {
	b.engine.HandleMethodNotAllowed = true
	b.engine.NoMethod(handlers...)
	return b
}

// SetMode 设置 Gin 模式
func (b *Builder) SetMode(mode string) *Builder {
	gin.SetMode(mode)
	return b
}

// Engine 获取 Gin 引擎（用于高级定制）
func (b *Builder) Engine() *gin.Engine {
	return b.engine
}

// Build 构建 Web 主机
func (b *Builder) Build() (*Host, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("web configuration errors: %v", b.errors)
	}
	return newHost(b.server, b.engine, b.addr, b.ConfigContext().GetLoggerFactory().CreateLogger("Web")), nil
}
