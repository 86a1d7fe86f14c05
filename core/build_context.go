package core

import (
	"errors"
	"reflect"
	"sync"

	"github.com/gocrud/inject/config"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/hosting"
	"github.com/gocrud/inject/logging"
)

// Configurator 配置器函数类型
// 配置器用于扩展应用程序，可以注册绑定、添加托管服务等
type Configurator func(*BuildContext)

type cleanupEntry struct {
	key string
	fn  func()
}

// BuildContext 构建上下文
// 提供给配置器的上下文环境，包含根上下文、配置、日志等核心组件
type BuildContext struct {
	root          *di.Context
	configuration config.Configuration
	loggerFactory logging.LoggerFactory
	logger        logging.Logger
	environment   Environment
	lifecycle     *LifecycleEvents
	features      *FeatureCollection

	hostedServices []hosting.HostedService
	cleanups       []cleanupEntry
	errs           []error

	mu sync.RWMutex
}

// Context 返回应用根上下文，配置器直接在其上 Bind
func (c *BuildContext) Context() *di.Context {
	return c.root
}

// AddHostedService 添加托管服务实例
func (c *BuildContext) AddHostedService(service hosting.HostedService) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostedServices = append(c.hostedServices, service)
}

// SetCleanup 设置资源清理函数，同一 key 重复设置时覆盖
// 应用停止时按注册的倒序执行
func (c *BuildContext) SetCleanup(key string, cleanup func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cleanups {
		if c.cleanups[i].key == key {
			c.cleanups[i].fn = cleanup
			return
		}
	}
	c.cleanups = append(c.cleanups, cleanupEntry{key: key, fn: cleanup})
}

// AddError 记录配置器错误，Build 时统一返回
func (c *BuildContext) AddError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Err 返回已记录的全部错误
func (c *BuildContext) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return errors.Join(c.errs...)
}

// GetLogger 获取日志记录器
func (c *BuildContext) GetLogger() logging.Logger {
	return c.logger
}

// GetLoggerFactory 获取日志工厂
func (c *BuildContext) GetLoggerFactory() logging.LoggerFactory {
	return c.loggerFactory
}

// GetConfiguration 获取配置对象
func (c *BuildContext) GetConfiguration() config.Configuration {
	return c.configuration
}

// GetEnvironment 获取环境信息
func (c *BuildContext) GetEnvironment() Environment {
	return c.environment
}

// Lifecycle 生命周期钩子
func (c *BuildContext) Lifecycle() *LifecycleEvents {
	return c.lifecycle
}

// Features 构建期特性集合
func (c *BuildContext) Features() *FeatureCollection {
	return c.features
}

func (c *BuildContext) snapshot() ([]hosting.HostedService, []cleanupEntry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]hosting.HostedService(nil), c.hostedServices...), append([]cleanupEntry(nil), c.cleanups...)
}

// ConfigureOptions 配置选项模式（支持静态、快照和监听三种模式）
//
//	options.<section>           Option[T]          Singleton
//	options.<section>.monitor   OptionMonitor[T]   Singleton，随配置重载更新
//	options.<section>.snapshot  OptionSnapshot[T]  Request，每个请求上下文一份快照
//
// 使用示例: core.ConfigureOptions[AppSetting](ctx, "app")
func ConfigureOptions[T any](ctx *BuildContext, section string) {
	cache := config.NewOptionsCache[T](ctx.configuration, section)
	if err := cache.Err(); err != nil {
		// 配置节不存在时使用零值，存在但无效时构建失败
		if ctx.configuration.Value(section) != nil {
			ctx.AddError(err)
			return
		}
		ctx.logger.Warn("Options section not found, using zero value", logging.String("section", section))
	}

	root := ctx.root
	root.MustBind(OptionKey[T](section).Key()).
		To(config.NewOption(cache.Get())).
		InScope(di.ScopeSingleton)
	root.MustBind(OptionMonitorKey[T](section).Key()).
		To(config.NewOptionMonitor(cache)).
		InScope(di.ScopeSingleton)
	root.MustBind(OptionSnapshotKey[T](section).Key()).
		ToDynamicValue(di.Factory(func() (any, error) {
			return config.NewOptionSnapshot(cache.Snapshot()), nil
		})).
		InScope(di.ScopeRequest)

	ctx.logger.Info("Configured options",
		logging.String("type", reflect.TypeOf((*T)(nil)).Elem().String()),
		logging.String("section", section))
}
