package di

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

const (
	// GlobalInterceptorTag 全局拦截器标签
	GlobalInterceptorTag = "globalInterceptor"
	// GlobalInterceptorGroupTag 全局拦截器分组标签
	GlobalInterceptorGroupTag = "globalInterceptorGroup"
	// GlobalInterceptorOrderedGroupsKey 绑定 []string，声明全局拦截器分组顺序
	GlobalInterceptorOrderedGroupsKey = "globalInterceptor.orderedGroups"
	// InterceptorsNamespace 拦截器绑定 key 的默认前缀
	InterceptorsNamespace = "interceptors"
)

// Next 调用链中的下一个拦截器或目标方法
type Next func() Result

// Interceptor 环绕通知
type Interceptor func(ic *InvocationContext, next Next) Result

// InterceptorProvider 以方法形式提供拦截逻辑的类型
type InterceptorProvider interface {
	Intercept(ic *InvocationContext, next Next) Result
}

// InvocationContext 一次方法调用的上下文，是调用方上下文的短生命周期子上下文。
// 拦截器可以在其中绑定值，以影响下游拦截器与目标方法的参数注入。
type InvocationContext struct {
	*Context

	target     any
	methodName string
	// Args 显式实参，拦截器可以修改
	Args []any
}

// NewInvocationContext 创建调用上下文
func NewInvocationContext(parent *Context, target any, methodName string, args []any) *InvocationContext {
	return &InvocationContext{
		Context:    NewContext(parent, ""),
		target:     target,
		methodName: methodName,
		Args:       args,
	}
}

// Target 调用目标
func (ic *InvocationContext) Target() any { return ic.target }

// MethodName 方法名
func (ic *InvocationContext) MethodName() string { return ic.methodName }

// TargetName 例如 "UserService.Find"
func (ic *InvocationContext) TargetName() string {
	return typeName(reflect.TypeOf(ic.target)) + "." + ic.methodName
}

func (ic *InvocationContext) String() string {
	return fmt.Sprintf("InvocationContext(%s): %s", ic.Name(), ic.TargetName())
}

// AssertMethodExists 检查目标方法存在
func (ic *InvocationContext) AssertMethodExists() error {
	if ic.target == nil {
		return newError(KindInvalidValue, "", "invocation target of %s is nil", ic.methodName)
	}
	if ClassFor(reflect.TypeOf(ic.target)).lookupMethod(ic.methodName) != nil {
		return nil
	}
	if !reflect.ValueOf(ic.target).MethodByName(ic.methodName).IsValid() {
		return newError(KindInvalidValue, "", "method %s not found", ic.TargetName())
	}
	return nil
}

// GlobalInterceptorBindingKeys 按分组顺序返回全局拦截器的绑定 key。
// 未出现在分组列表中的排在前面，同组内保持注册顺序。
func (ic *InvocationContext) GlobalInterceptorBindingKeys() []string {
	bindings := ic.Find(ByTag(GlobalInterceptorTag))
	groups, _ := GetSync[[]string](ic.Context, GlobalInterceptorOrderedGroupsKey, Optional())
	sortBindings(bindings, CompareByTag(GlobalInterceptorGroupTag, groups))

	keys := make([]string, len(bindings))
	for i, b := range bindings {
		keys[i] = b.Key()
	}
	return keys
}

func (ic *InvocationContext) loadInterceptors() []any {
	var items []any
	for _, key := range ic.GlobalInterceptorBindingKeys() {
		items = append(items, key)
	}
	meta := ClassFor(reflect.TypeOf(ic.target))
	items = append(items, meta.classInterceptors()...)
	if mm := meta.lookupMethod(ic.methodName); mm != nil {
		items = append(items, mm.methodInterceptors()...)
	}

	// 同一个 key 只保留第一次出现
	seen := make(map[string]bool)
	out := items[:0]
	for _, item := range items {
		if key, ok := item.(string); ok {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, item)
	}
	return out
}

// InvocationOptions 调用选项
type InvocationOptions struct {
	SkipInterceptors       bool
	SkipParameterInjection bool
	Session                *ResolutionSession
}

// InvokeOption 调用选项函数
type InvokeOption func(*InvocationOptions)

// SkipInterceptors 直接调用目标方法
func SkipInterceptors() InvokeOption {
	return func(o *InvocationOptions) { o.SkipInterceptors = true }
}

// SkipParameterInjection 只使用显式实参
func SkipParameterInjection() InvokeOption {
	return func(o *InvocationOptions) { o.SkipParameterInjection = true }
}

// InvokeMethod 调用 target 的方法：全局拦截器 -> 类拦截器 -> 方法拦截器 -> 目标方法。
// 目标方法的参数在调用上下文上注入；调用上下文在调用结束后关闭。
func InvokeMethod(target any, methodName string, c *Context, args []any, opts ...InvokeOption) Result {
	var o InvocationOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.SkipInterceptors {
		return invokeTargetMethod(c, target, methodName, args, o)
	}

	ic := NewInvocationContext(c, target, methodName, args)
	if err := ic.AssertMethodExists(); err != nil {
		return Failed(err)
	}
	chain := &interceptorChain{
		ic:    ic,
		items: ic.loadInterceptors(),
		final: func() Result {
			return invokeTargetMethod(ic.Context, ic.target, ic.methodName, ic.Args, o)
		},
	}
	return chain.invoke().Finally(ic.Close)
}

func invokeTargetMethod(c *Context, target any, methodName string, args []any, o InvocationOptions) Result {
	if target == nil {
		return Failed(newError(KindInvalidValue, "", "invocation target of %s is nil", methodName))
	}
	t := reflect.TypeOf(target)
	name := typeName(t) + "." + methodName
	if mm := ClassFor(t).lookupMethod(methodName); mm != nil {
		if o.SkipParameterInjection {
			return callWithArgs(mm.member.fn, append([]any{target}, args...), name)
		}
		return invokeWithInjection(mm, target, c, o.Session, args)
	}

	m := reflect.ValueOf(target).MethodByName(methodName)
	if !m.IsValid() {
		return Failed(newError(KindInvalidValue, "", "method %s not found", name))
	}
	return callWithArgs(m, args, name)
}

type interceptorChain struct {
	ic    *InvocationContext
	items []any
	final func() Result
}

func (ch *interceptorChain) invoke() Result {
	return ch.next(0)
}

func (ch *interceptorChain) next(i int) Result {
	if i >= len(ch.items) {
		return ch.final()
	}
	return ch.load(ch.items[i]).Then(func(v any) Result {
		fn, err := asInterceptor(v)
		if err != nil {
			return Failed(err)
		}
		return fn(ch.ic, func() Result { return ch.next(i + 1) })
	})
}

func (ch *interceptorChain) load(item any) Result {
	if key, ok := item.(string); ok {
		return ch.ic.GetValueOrPromise(key)
	}
	return Result{value: item}
}

func asInterceptor(v any) (Interceptor, error) {
	switch fn := v.(type) {
	case Interceptor:
		return fn, nil
	case func(*InvocationContext, Next) Result:
		return fn, nil
	case InterceptorProvider:
		return fn.Intercept, nil
	}
	return nil, newError(KindTypeMismatch, "", "%T is not an interceptor", v)
}

// InterceptorOptions 注册拦截器的选项
type InterceptorOptions struct {
	Key    string
	Global bool
	Group  string
}

// RegisterInterceptor 把拦截器绑定到上下文；非函数值按 Provider 类绑定
func RegisterInterceptor(c *Context, interceptor any, opts InterceptorOptions) (*Binding, error) {
	key := opts.Key
	if key == "" {
		key = InterceptorsNamespace + "." + uuid.NewString()
	}
	b, err := c.Bind(key)
	if err != nil {
		return nil, err
	}
	switch interceptor.(type) {
	case Interceptor, func(*InvocationContext, Next) Result, InterceptorProvider:
		b.To(interceptor)
	default:
		b.ToProvider(interceptor)
	}
	if opts.Global || opts.Group != "" {
		b.Apply(AsGlobalInterceptor(opts.Group))
	}
	return b, nil
}

// AsGlobalInterceptor 绑定模板：标记为全局拦截器，可选分组
func AsGlobalInterceptor(group string) BindingTemplate {
	return func(b *Binding) {
		b.Tag(GlobalInterceptorTag)
		if group != "" {
			b.TagValue(GlobalInterceptorGroupTag, group)
		}
	}
}
