package tracing

import (
	"context"

	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InterceptorKey 追踪拦截器的绑定 key
	InterceptorKey = "interceptors.tracing"
	// ContextKey 调用上下文中绑定的 context.Context，携带当前 span
	ContextKey = "tracing.context"

	defaultTracerName = "github.com/gocrud/inject/configure/tracing"
)

// TracerProviderKey 使用的 TracerProvider
var TracerProviderKey = di.NewKey[trace.TracerProvider]("tracing.provider")

// span 属性
const (
	AttrTarget  = "di.target"
	AttrMethod  = "di.method"
	AttrContext = "di.context"
)

// Options 追踪配置
type Options struct {
	// Provider 为空时使用 otel 全局 TracerProvider
	Provider trace.TracerProvider
	// TracerName 默认为本包路径
	TracerName string
	// Group 全局拦截器分组，配合 di.GlobalInterceptorOrderedGroupsKey 排序
	Group string
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Configure 注册全局追踪拦截器，每次方法调用创建一个 span
//
//	builder.Configure(tracing.Configure(func(o *tracing.Options) { o.Provider = tp }))
func Configure(configure func(*Options)) core.Configurator {
	return func(ctx *core.BuildContext) {
		opts := &Options{TracerName: defaultTracerName}
		if configure != nil {
			configure(opts)
		}
		if opts.Provider == nil {
			opts.Provider = otel.GetTracerProvider()
		}

		root := ctx.Context()
		root.MustBind(TracerProviderKey.Key()).To(opts.Provider).Lock()

		tracer := opts.Provider.Tracer(opts.TracerName)
		if _, err := di.RegisterInterceptor(root, Interceptor(tracer), di.InterceptorOptions{
			Key:    InterceptorKey,
			Global: true,
			Group:  opts.Group,
		}); err != nil {
			ctx.AddError(err)
			return
		}

		// SDK 的 provider 需要在退出时刷新
		if sd, ok := opts.Provider.(shutdowner); ok {
			logger := ctx.GetLogger()
			ctx.Lifecycle().OnStop(func(stopCtx context.Context) error {
				logger.Info("Shutting down tracer provider")
				return sd.Shutdown(stopCtx)
			})
		}

		ctx.GetLogger().Info("Tracing interceptor configured", logging.String("tracer", opts.TracerName))
	}
}

// Interceptor 返回追踪拦截器
//
// 父 span 依次取自：第一个参数为 context.Context 时的该参数、
// 调用链上绑定的 ContextKey。新的 context 会替换该参数并绑定到 ContextKey，
// 方法内部以同一个调用上下文发起的嵌套调用因此成为子 span。
func Interceptor(tracer trace.Tracer) di.Interceptor {
	return func(ic *di.InvocationContext, next di.Next) di.Result {
		parent := context.Background()
		argIsContext := false
		if len(ic.Args) > 0 {
			if c, ok := ic.Args[0].(context.Context); ok && c != nil {
				parent = c
				argIsContext = true
			}
		}
		if !argIsContext {
			if v, err := ic.GetSync(ContextKey, di.Optional()); err == nil && v != nil {
				if c, ok := v.(context.Context); ok {
					parent = c
				}
			}
		}

		spanCtx, span := tracer.Start(parent, ic.TargetName(),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String(AttrTarget, ic.TargetName()),
				attribute.String(AttrMethod, ic.MethodName()),
				attribute.String(AttrContext, ic.Parent().Name()),
			))
		if argIsContext {
			ic.Args[0] = spanCtx
		}
		ic.MustBind(ContextKey).To(spanCtx)

		return next().
			Then(func(v any) di.Result {
				span.SetStatus(codes.Ok, "")
				span.End()
				return di.Ready(v)
			}).
			Catch(func(err error) di.Result {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return di.Failed(err)
			})
	}
}

// SpanFromContext 取出 c 链上绑定的当前 span，没有时返回无效 span
func SpanFromContext(c *di.Context) trace.Span {
	v, err := c.GetSync(ContextKey, di.Optional())
	if err != nil || v == nil {
		return trace.SpanFromContext(context.Background())
	}
	return trace.SpanFromContext(v.(context.Context))
}
