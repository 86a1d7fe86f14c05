package di

import (
	"context"
)

// ResolutionOptions 解析选项
type ResolutionOptions struct {
	// Session 复用已有的解析会话，用于循环依赖检测
	Session *ResolutionSession
	// Optional 找不到绑定时返回 nil 而不是 KeyNotBound
	Optional bool
	// AsProxyWithInterceptors 注入时把值包装为拦截代理
	AsProxyWithInterceptors bool
	// Comparator 过滤器注入与视图的排序
	Comparator BindingComparator
}

// ResolveOption 解析选项函数
type ResolveOption func(*ResolutionOptions)

// Optional 可选解析
func Optional() ResolveOption {
	return func(o *ResolutionOptions) {
		o.Optional = true
	}
}

// Required 取消可选；用于默认可选的配置解析
func Required() ResolveOption {
	return func(o *ResolutionOptions) {
		o.Optional = false
	}
}

// AsProxyWithInterceptors 注入拦截代理
func AsProxyWithInterceptors() ResolveOption {
	return func(o *ResolutionOptions) {
		o.AsProxyWithInterceptors = true
	}
}

// WithSession 指定解析会话
func WithSession(session *ResolutionSession) ResolveOption {
	return func(o *ResolutionOptions) {
		o.Session = session
	}
}

// WithComparator 指定绑定排序
func WithComparator(cmp BindingComparator) ResolveOption {
	return func(o *ResolutionOptions) {
		o.Comparator = cmp
	}
}

func buildResolutionOptions(opts []ResolveOption) ResolutionOptions {
	var o ResolutionOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GetValueOrPromise 解析 "key" 或 "key#a.b"，结果可能是就绪值或 Future
func (c *Context) GetValueOrPromise(keyWithPath string, opts ...ResolveOption) Result {
	key, path, err := ParseKeyWithPath(keyWithPath)
	if err != nil {
		return Failed(err)
	}
	return c.resolveKey(key, path, buildResolutionOptions(opts))
}

// Get 解析并等待结果
func (c *Context) Get(ctx context.Context, keyWithPath string, opts ...ResolveOption) (any, error) {
	return c.GetValueOrPromise(keyWithPath, opts...).Await(ctx)
}

// GetSync 同步解析；值需要等待时返回 SyncResolutionError
func (c *Context) GetSync(keyWithPath string, opts ...ResolveOption) (any, error) {
	r := c.GetValueOrPromise(keyWithPath, opts...)
	if r.IsPending() {
		return nil, newError(KindSyncResolution, keyWithPath,
			"cannot get %s synchronously: the value is a future, use Get instead", keyWithPath)
	}
	return r.value, r.err
}

func (c *Context) resolveKey(key, path string, o ResolutionOptions) Result {
	b := c.lookupBinding(key)
	if b == nil {
		if o.Optional {
			return Ready(nil)
		}
		return Failed(keyNotBound(key, c))
	}

	r := b.getValue(c, o)
	if path == "" {
		return r
	}
	return r.Then(func(v any) Result {
		return Result{value: GetDeepProperty(v, path)}
	})
}
