package di

import (
	"context"
	"reflect"
)

type injectKind int

const (
	injectKey injectKind = iota
	injectFilter
	injectGetter
	injectSetter
	injectView
	injectConfig
	injectContext
	injectCustom
)

// InjectionResolver 自定义注入解析函数
type InjectionResolver func(c *Context, inj *Injection, session *ResolutionSession) Result

// Injection 描述一个构造函数参数、属性或方法参数如何被注入
type Injection struct {
	kind     injectKind
	key      string
	filter   BindingFilter
	options  ResolutionOptions
	resolver InjectionResolver

	target     string
	targetType reflect.Type
}

// Getter 每次调用都会在原始上下文上重新解析
type Getter func(ctx context.Context) (any, error)

// Setter 在原始上下文上把 key 绑定为常量
type Setter func(value any) error

var (
	getterType = reflect.TypeOf(Getter(nil))
	setterType = reflect.TypeOf(Setter(nil))
	viewType   = reflect.TypeOf((*View)(nil))
	proxyType  = reflect.TypeOf((*InterceptedProxy)(nil))
)

// Inject 按 key（可带 "#path"）注入
func Inject(keyWithPath string, opts ...ResolveOption) *Injection {
	return &Injection{kind: injectKey, key: keyWithPath, options: buildResolutionOptions(opts)}
}

// InjectTag 注入带有指定标签的全部绑定值（切片）
func InjectTag(tag string, opts ...ResolveOption) *Injection {
	return InjectFilter(ByTag(tag), opts...)
}

// InjectFilter 注入匹配过滤器的全部绑定值（切片），顺序为比较器顺序或注册顺序
func InjectFilter(filter BindingFilter, opts ...ResolveOption) *Injection {
	return &Injection{kind: injectFilter, filter: filter, options: buildResolutionOptions(opts)}
}

// InjectGetter 注入 Getter
func InjectGetter(keyWithPath string, opts ...ResolveOption) *Injection {
	return &Injection{kind: injectGetter, key: keyWithPath, options: buildResolutionOptions(opts)}
}

// InjectSetter 注入 Setter
func InjectSetter(key string) *Injection {
	return &Injection{kind: injectSetter, key: key}
}

// InjectView 注入 *View
func InjectView(filter BindingFilter, opts ...ResolveOption) *Injection {
	return &Injection{kind: injectView, filter: filter, options: buildResolutionOptions(opts)}
}

// InjectConfig 注入当前绑定的配置（默认可选）
func InjectConfig(path string, opts ...ResolveOption) *Injection {
	o := buildResolutionOptions(append([]ResolveOption{Optional()}, opts...))
	return &Injection{kind: injectConfig, key: path, options: o}
}

// InjectContext 注入发起解析的 *Context
func InjectContext() *Injection {
	return &Injection{kind: injectContext}
}

// InjectResolver 使用自定义解析函数
func InjectResolver(fn InjectionResolver, opts ...ResolveOption) *Injection {
	return &Injection{kind: injectCustom, resolver: fn, options: buildResolutionOptions(opts)}
}

// NotInjected 占位，表示该参数由调用方显式传入
func NotInjected() *Injection {
	return nil
}

// Target 注入点名称，例如 "UserService.constructor[0]"
func (inj *Injection) Target() string {
	if inj.target == "" {
		return "<anonymous>"
	}
	return inj.target
}

// Key 注入的 key（配置注入时为属性路径）
func (inj *Injection) Key() string { return inj.key }

// TargetType 注入点声明的类型
func (inj *Injection) TargetType() reflect.Type { return inj.targetType }

// Options 注入选项
func (inj *Injection) Options() ResolutionOptions { return inj.options }

func (inj *Injection) bindTo(target string, t reflect.Type) *Injection {
	cp := *inj
	cp.target = target
	cp.targetType = t
	return &cp
}

func (inj *Injection) mismatch(format string, args ...any) Result {
	return Failed(newError(KindTypeMismatch, inj.key, "%s: "+format, append([]any{inj.Target()}, args...)...))
}

func (inj *Injection) accepts(t reflect.Type) bool {
	return inj.targetType == nil || t.AssignableTo(inj.targetType)
}

// resolveInjection 在上下文 c 上解析一个注入点
func resolveInjection(c *Context, inj *Injection, session *ResolutionSession) Result {
	switch inj.kind {
	case injectKey:
		key, path, err := ParseKeyWithPath(inj.key)
		if err != nil {
			return Failed(err)
		}
		r := c.resolveKey(key, path, ResolutionOptions{Session: session, Optional: inj.options.Optional})
		if !inj.options.AsProxyWithInterceptors {
			return r
		}
		if !inj.accepts(proxyType) {
			return inj.mismatch("the target type %v cannot hold an intercepted proxy", inj.targetType)
		}
		return r.Then(func(v any) Result {
			if v == nil {
				return Ready(nil)
			}
			return Ready(NewInterceptedProxy(v, c))
		})

	case injectFilter:
		if inj.targetType != nil && inj.targetType.Kind() != reflect.Slice && inj.targetType.Kind() != reflect.Array {
			return inj.mismatch("the target type %v is not a slice, but a filter injects all matching values", inj.targetType)
		}
		bindings := c.Find(inj.filter)
		sortBindings(bindings, inj.options.Comparator)
		return resolveBindings(c, bindings, session)

	case injectGetter:
		if !inj.accepts(getterType) {
			return inj.mismatch("the target type %v is not a di.Getter", inj.targetType)
		}
		key, opts := inj.key, inj.options
		return Ready(Getter(func(ctx context.Context) (any, error) {
			return c.Get(ctx, key, func(o *ResolutionOptions) { o.Optional = opts.Optional })
		}))

	case injectSetter:
		if !inj.accepts(setterType) {
			return inj.mismatch("the target type %v is not a di.Setter", inj.targetType)
		}
		key := inj.key
		return Ready(Setter(func(value any) error {
			b, err := c.Bind(key)
			if err != nil {
				return err
			}
			if isAwaitable(value) {
				b.ToDynamicValue(func(*ResolutionContext) Result { return Ready(value) })
				return nil
			}
			b.To(value)
			return nil
		}))

	case injectView:
		if !inj.accepts(viewType) {
			return inj.mismatch("the target type %v is not a *di.View", inj.targetType)
		}
		return Ready(c.CreateView(inj.filter, inj.options.Comparator))

	case injectConfig:
		key := ""
		if b := session.CurrentBinding(); b != nil {
			key = b.Key()
		}
		return c.getConfigResult(key, inj.key, ResolutionOptions{Session: session, Optional: inj.options.Optional})

	case injectContext:
		return Ready(c)

	case injectCustom:
		return inj.resolver(c, inj, session)
	}
	return inj.mismatch("unknown injection kind %d", inj.kind)
}

// resolveBindings 并行解析多个绑定，保持给定顺序
func resolveBindings(c *Context, bindings []*Binding, session *ResolutionSession) Result {
	results := make([]Result, len(bindings))
	for i, b := range bindings {
		results[i] = b.getValue(c, ResolutionOptions{Session: session.Fork()})
	}
	return All(results)
}
