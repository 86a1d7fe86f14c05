package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gocrud/inject/config"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/hosting"
	"github.com/gocrud/inject/logging"
)

// Application 应用程序接口
type Application interface {
	Run() error
	RunAsync(ctx context.Context) error
	Stop(ctx context.Context) error
	Context() *di.Context
	Configuration() config.Configuration
	Logger() logging.Logger
	Environment() Environment
	Lifecycle() *LifecycleEvents
}

// ApplicationBuilder 应用程序构建器
type ApplicationBuilder struct {
	environment          string
	configBuilder        *config.ConfigurationBuilder
	loggingBuilder       *logging.LoggingBuilder
	serviceConfigurators []func(*ServiceCollection)
	configurators        []Configurator
	shutdownTimeout      time.Duration
	handleSignals        bool
	errs                 []error
	mu                   sync.RWMutex
}

// NewApplicationBuilder 创建应用程序构建器
func NewApplicationBuilder() *ApplicationBuilder {
	return &ApplicationBuilder{
		environment:     defaultEnvironment(),
		configBuilder:   config.NewConfigurationBuilder(),
		loggingBuilder:  logging.NewLoggingBuilder(),
		shutdownTimeout: 30 * time.Second,
		handleSignals:   true,
	}
}

// UseEnvironment 设置环境
func (b *ApplicationBuilder) UseEnvironment(env string) *ApplicationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.environment = env
	return b
}

// ConfigureConfiguration 配置配置系统
func (b *ApplicationBuilder) ConfigureConfiguration(configure func(*config.ConfigurationBuilder)) *ApplicationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if configure != nil {
		configure(b.configBuilder)
	}
	return b
}

// ConfigureLogging 配置日志系统
func (b *ApplicationBuilder) ConfigureLogging(configure func(*logging.LoggingBuilder)) *ApplicationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if configure != nil {
		configure(b.loggingBuilder)
	}
	return b
}

// ConfigureServices 配置服务
func (b *ApplicationBuilder) ConfigureServices(configure func(*ServiceCollection)) *ApplicationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if configure != nil {
		b.serviceConfigurators = append(b.serviceConfigurators, configure)
	}
	return b
}

// Configure 添加配置器，按添加顺序执行
func (b *ApplicationBuilder) Configure(configurators ...Configurator) *ApplicationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range configurators {
		if c != nil {
			b.configurators = append(b.configurators, c)
		}
	}
	return b
}

// AddExtension 添加应用程序扩展
func (b *ApplicationBuilder) AddExtension(ext Extension) *ApplicationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := validateExtension(ext); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if sc, ok := ext.(ServiceConfigurator); ok {
		b.serviceConfigurators = append(b.serviceConfigurators, sc.ConfigureServices)
	}
	if ac, ok := ext.(AppConfigurator); ok {
		b.configurators = append(b.configurators, ac.ConfigureBuilder)
	}
	return b
}

// AddOptions 注册配置选项
// 使用示例: core.AddOptions[AppSetting](builder, "app")
func AddOptions[T any](b *ApplicationBuilder, section string) *ApplicationBuilder {
	return b.Configure(func(ctx *BuildContext) {
		ConfigureOptions[T](ctx, section)
	})
}

// AddTask 添加一个简单的后台任务
func (b *ApplicationBuilder) AddTask(task func(ctx context.Context) error) *ApplicationBuilder {
	return b.Configure(func(ctx *BuildContext) {
		ctx.AddHostedService(&functionalService{task: task})
	})
}

// AddTimedTask 添加按固定间隔执行的后台任务
func (b *ApplicationBuilder) AddTimedTask(name string, interval time.Duration, task func(ctx context.Context) error) *ApplicationBuilder {
	return b.Configure(func(ctx *BuildContext) {
		ctx.AddHostedService(hosting.NewTimedHostedService(name, interval, task, ctx.GetLoggerFactory().CreateLogger(name)))
	})
}

// functionalService 函数式托管服务
type functionalService struct {
	task func(ctx context.Context) error
}

func (f *functionalService) Start(ctx context.Context) error {
	return f.task(ctx)
}

func (f *functionalService) Stop(ctx context.Context) error {
	return nil
}

// UseShutdownTimeout 设置关闭超时
func (b *ApplicationBuilder) UseShutdownTimeout(timeout time.Duration) *ApplicationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdownTimeout = timeout
	return b
}

// DisableSignalHandling 不监听 SIGINT/SIGTERM，由调用方通过 Stop 或 ctx 结束运行
func (b *ApplicationBuilder) DisableSignalHandling() *ApplicationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handleSignals = false
	return b
}

// Build 构建应用程序
func (b *ApplicationBuilder) Build() (Application, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	cfg, err := b.configBuilder.Build()
	if err != nil {
		return nil, fmt.Errorf("build configuration: %w", err)
	}

	loggerFactory := b.loggingBuilder.Build()
	logger := loggerFactory.CreateLogger("Application")
	for _, err := range b.loggingBuilder.Errors() {
		logger.Warn("Logging provider unavailable", logging.Err(err))
	}

	logger.Info("Building application", logging.String("environment", b.environment))

	root := di.NewContext(nil, "application",
		di.WithScope(di.ScopeApplication),
		di.WithLogger(loggerFactory.CreateLogger("di")))
	root.OnError(func(err error) {
		logger.Error("Context observer failed", logging.Err(err))
	})

	env := NewEnvironment(b.environment)
	lifecycle := NewLifecycle()

	root.MustBind(ConfigurationKey.Key()).To(config.Configuration(cfg)).Lock()
	root.MustBind(LoggerFactoryKey.Key()).To(loggerFactory).Lock()
	root.MustBind(LoggerKey.Key()).To(logger).Lock()
	root.MustBind(EnvironmentKey.Key()).To(env).Lock()
	root.MustBind(LifecycleKey.Key()).To(lifecycle).Lock()
	root.MustBind(di.ConfigurationResolverKey).To(config.NewResolver(cfg))

	buildContext := &BuildContext{
		root:          root,
		configuration: cfg,
		loggerFactory: loggerFactory,
		logger:        logger,
		environment:   env,
		lifecycle:     lifecycle,
		features:      &FeatureCollection{},
	}
	services := &ServiceCollection{root: root, logger: logger}

	for _, configurator := range b.configurators {
		configurator(buildContext)
	}
	for _, configurator := range b.serviceConfigurators {
		configurator(services)
	}

	instances, cleanups := buildContext.snapshot()
	if err := buildContext.Err(); err != nil {
		// 已经注册的资源需要释放
		runCleanups(logger, cleanups)
		root.Close()
		loggerFactory.Close()
		return nil, err
	}

	logger.Info("Application built", logging.Any("bindings", len(root.Find(nil))))

	return &application{
		root:            root,
		configuration:   cfg,
		loggerFactory:   loggerFactory,
		logger:          logger,
		environment:     env,
		lifecycle:       lifecycle,
		instances:       instances,
		hostedView:      root.CreateView(di.ByTag(hosting.HostedServiceTag), nil),
		cleanups:        cleanups,
		shutdownTimeout: b.shutdownTimeout,
		handleSignals:   b.handleSignals,
		stopCh:          make(chan struct{}),
	}, nil
}

// application 应用程序实现
type application struct {
	root            *di.Context
	configuration   *config.ReloadableConfiguration
	loggerFactory   logging.LoggerFactory
	logger          logging.Logger
	environment     Environment
	lifecycle       *LifecycleEvents
	instances       []hosting.HostedService
	hostedView      *di.View
	cleanups        []cleanupEntry
	shutdownTimeout time.Duration
	handleSignals   bool
	stopCh          chan struct{}
	stopOnce        sync.Once
	running         bool
	finished        bool
	mu              sync.Mutex
}

// Run 运行应用程序（阻塞）
func (a *application) Run() error {
	return a.RunAsync(context.Background())
}

// hostedServices 解析以标签注册的托管服务，追加到直接添加的实例之后
func (a *application) hostedServices(ctx context.Context) ([]hosting.HostedService, error) {
	services := append([]hosting.HostedService(nil), a.instances...)
	values, err := a.hostedView.Values(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve hosted services: %w", err)
	}
	bindings := a.hostedView.Bindings()
	for i, v := range values {
		hs, ok := v.(hosting.HostedService)
		if !ok {
			key := ""
			if i < len(bindings) {
				key = bindings[i].Key()
			}
			return nil, fmt.Errorf("binding %q tagged %q does not implement HostedService (%T)", key, hosting.HostedServiceTag, v)
		}
		services = append(services, hs)
	}
	return services, nil
}

// RunAsync 运行应用程序，直到收到信号、Stop、ctx 取消或托管服务失败
func (a *application) RunAsync(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("application is already running")
	}
	if a.finished {
		a.mu.Unlock()
		return errors.New("application has already stopped")
	}
	a.running = true
	a.mu.Unlock()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	a.logger.Info("Starting application", logging.String("environment", a.environment.Name()))

	go a.configuration.Watch(runCtx, func(err error) {
		a.logger.Error("Failed to reload configuration", logging.Err(err))
	})

	var runErr error
	manager := hosting.NewHostedServiceManager(a.logger)
	var errCh <-chan error

	if err := a.lifecycle.Start(runCtx); err != nil {
		runErr = fmt.Errorf("lifecycle start: %w", err)
	} else if services, err := a.hostedServices(runCtx); err != nil {
		runErr = err
	} else {
		for _, svc := range services {
			manager.Add(svc)
		}
		errCh = manager.StartAll(runCtx)
		a.logger.Info("Application started", logging.Any("hostedServices", len(services)))
	}

	if runErr == nil {
		var sigCh chan os.Signal
		if a.handleSignals {
			sigCh = make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
		}

		select {
		case sig := <-sigCh:
			a.logger.Info("Received shutdown signal", logging.String("signal", sig.String()))
		case <-a.stopCh:
			a.logger.Info("Application stop requested")
		case <-ctx.Done():
			a.logger.Info("Context cancelled")
		case err := <-errCh:
			a.logger.Error("Hosted service failed, stopping application", logging.Err(err))
			runErr = err
		}
	}

	a.logger.Info("Shutting down application", logging.String("timeout", a.shutdownTimeout.String()))
	runCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if err := manager.StopAll(shutdownCtx); err != nil {
		a.logger.Error("Failed to stop hosted services", logging.Err(err))
	}
	manager.Wait()

	if err := a.lifecycle.Stop(shutdownCtx); err != nil {
		a.logger.Error("Lifecycle stop hooks failed", logging.Err(err))
	}

	runCleanups(a.logger, a.cleanups)

	a.hostedView.Close()
	a.root.Close()
	a.logger.Info("Application stopped")
	a.loggerFactory.Close()

	a.mu.Lock()
	a.running = false
	a.finished = true
	a.mu.Unlock()

	return runErr
}

func runCleanups(logger logging.Logger, cleanups []cleanupEntry) {
	if len(cleanups) == 0 {
		return
	}
	logger.Info("Running cleanup functions", logging.Any("count", len(cleanups)))
	for i := len(cleanups) - 1; i >= 0; i-- {
		logger.Debug("Running cleanup", logging.String("key", cleanups[i].key))
		cleanups[i].fn()
	}
}

// Stop 请求停止应用程序，可重复调用
func (a *application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return nil
}

func (a *application) Context() *di.Context { return a.root }

func (a *application) Configuration() config.Configuration { return a.configuration }

func (a *application) Logger() logging.Logger { return a.logger }

func (a *application) Environment() Environment { return a.environment }

func (a *application) Lifecycle() *LifecycleEvents { return a.lifecycle }

// Get 从应用根上下文同步解析
func Get[T any](app Application, key di.Key[T]) (T, error) {
	return key.GetSync(app.Context())
}
