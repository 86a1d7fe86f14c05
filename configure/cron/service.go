package cron

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/logging"
	"github.com/robfig/cron/v3"
)

// ServiceKey 定时任务服务的绑定 key
var ServiceKey = di.NewKey[*Service]("cron.service")

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// options Cron 服务配置选项
type options struct {
	Location *time.Location
	Parser   cron.Parser
	// EnableCronLogger 是否启用 cron 库的内部调度日志（默认 false）
	EnableCronLogger bool
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// Service Cron 定时任务托管服务
type Service struct {
	root   *di.Context
	cron   *cron.Cron
	parser cron.Parser
	logger logging.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	entries map[string]cron.EntryID
	started bool
}

// newService 创建 Cron 托管服务
func newService(root *di.Context, logger logging.Logger, opt options) *Service {
	cronOpts := []cron.Option{
		cron.WithParser(opt.Parser),
		cron.WithLocation(opt.Location),
		cron.WithChain(cron.Recover(newCronLogger(logger))),
	}
	// 只在启用时添加 cron 库的日志记录器
	if opt.EnableCronLogger {
		cronOpts = append(cronOpts, cron.WithLogger(newCronLogger(logger)))
	}

	return &Service{
		root:    root,
		cron:    cron.New(cronOpts...),
		parser:  opt.Parser,
		logger:  logger,
		jobs:    make(map[string]*job),
		entries: make(map[string]cron.EntryID),
	}
}

// Name 实现 hosting.Named
func (s *Service) Name() string { return "cron" }

func (s *Service) addJob(spec, name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, spec: spec, run: run}
}

// collect 收集带 JobTag 的绑定，任务名即绑定 key
func (s *Service) collect() error {
	var errs []error
	for _, b := range s.root.FindByTag(JobTag) {
		spec, _ := b.LookupTag(ScheduleTag)
		method, _ := b.LookupTag(MethodTag)
		if spec == "" || method == "" {
			errs = append(errs, fmt.Errorf("cron job binding %q requires %q and %q tags", b.Key(), ScheduleTag, MethodTag))
			continue
		}
		if _, err := s.parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid spec for cron job '%s': %w", b.Key(), err))
			continue
		}
		s.addJob(spec, b.Key(), s.methodJob(b.Key(), method))
	}
	return errors.Join(errs...)
}

// methodJob 每次执行创建请求作用域的子上下文，解析目标后调用方法
// 方法的第一个参数是 context.Context 时自动传入
func (s *Service) methodJob(key, method string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		jobCtx := s.root.NewChild("cron:"+key, di.WithScope(di.ScopeRequest))
		defer jobCtx.Close()
		jobCtx.MustBind(JobNameKey).To(key)

		target, err := jobCtx.Get(ctx, key)
		if err != nil {
			return err
		}

		var args []any
		if m := reflect.ValueOf(target).MethodByName(method); m.IsValid() &&
			m.Type().NumIn() > 0 && m.Type().In(0) == contextType {
			args = []any{ctx}
		}
		_, err = di.InvokeMethod(target, method, jobCtx, args).Await(ctx)
		return err
	}
}

// Jobs 返回已注册的任务名（排序后）
func (s *Service) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next 返回任务下一次执行时间，服务未启动或任务不存在时返回零值
func (s *Service) Next(name string) time.Time {
	s.mu.RLock()
	id, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Trigger 立即执行一次任务，返回任务的错误
func (s *Service) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cron job '%s' not found", name)
	}
	return s.execute(ctx, j)
}

func (s *Service) execute(ctx context.Context, j *job) error {
	start := time.Now()
	s.logger.Debug("Cron job started", logging.String("job", j.name))
	if err := j.run(ctx); err != nil {
		s.logger.Error("Cron job failed", logging.String("job", j.name), logging.Err(err))
		return err
	}
	s.logger.Debug("Cron job completed",
		logging.String("job", j.name),
		logging.Any("elapsed", time.Since(start)))
	return nil
}

// Start 实现 HostedService.Start
func (s *Service) Start(ctx context.Context) error {
	if err := s.collect(); err != nil {
		return err
	}

	s.mu.Lock()
	for name, j := range s.jobs {
		id, err := s.cron.AddFunc(j.spec, func() {
			_ = s.execute(ctx, j)
		})
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to add cron job '%s': %w", name, err)
		}
		s.entries[name] = id
		s.logger.Info("Cron job registered", logging.String("job", name), logging.String("spec", j.spec))
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("CronService starting", logging.Any("jobs", len(s.jobs)))
	s.cron.Start()

	// 阻塞直到上下文取消
	<-ctx.Done()
	return nil
}

// Stop 实现 HostedService.Stop，等待正在运行的任务完成
func (s *Service) Stop(ctx context.Context) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return nil
	}

	s.logger.Info("CronService stopping")
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Info("CronService stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("CronService stop timeout, forcing shutdown")
	}
	return nil
}

// cronLogger 适配器：将框架日志接口适配到 cron 的日志接口
type cronLogger struct {
	logger logging.Logger
}

func newCronLogger(logger logging.Logger) cron.Logger {
	return &cronLogger{logger: logger}
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, convertToFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := convertToFields(keysAndValues)
	fields = append(fields, logging.Err(err))
	l.logger.Error(msg, fields...)
}

func convertToFields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
