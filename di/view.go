package di

import (
	"context"
	"sync"
)

// View 按过滤器维护的绑定集合及其解析值。
// 匹配的绑定在上下文（或祖先）上增删后自动失效，下次访问时重新计算；关闭后保留关闭前的快照。
type View struct {
	c          *Context
	filter     BindingFilter
	comparator BindingComparator

	mu       sync.Mutex
	bindings []*Binding
	rev      uint64
	stale    bool
	values   *Result
	closed   bool
	sub      *Subscription
}

// CreateView 创建视图并立即开始观察上下文
func (c *Context) CreateView(filter BindingFilter, comparator BindingComparator) *View {
	if filter == nil {
		filter = MatchAll
	}
	v := &View{c: c, filter: filter, comparator: comparator, stale: true}
	v.sub = c.Subscribe(v)
	return v
}

// Filter 实现 FilteredObserver
func (v *View) Filter() BindingFilter {
	return v.filter
}

// Observe 实现 Observer
func (v *View) Observe(ContextEvent) error {
	v.Refresh()
	return nil
}

// Refresh 强制失效；关闭后无效
func (v *View) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.stale = true
	v.values = nil
}

// Bindings 当前匹配的绑定
func (v *View) Bindings() []*Binding {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*Binding(nil), v.bindingsLocked()...)
}

func (v *View) bindingsLocked() []*Binding {
	if v.bindings != nil && (v.closed || (!v.stale && v.rev == v.c.revision())) {
		return v.bindings
	}
	rev := v.c.revision()
	bindings := v.c.Find(v.filter)
	sortBindings(bindings, v.comparator)
	v.bindings = bindings
	v.rev = rev
	v.stale = false
	v.values = nil
	return v.bindings
}

// Resolve 并行解析全部匹配绑定，结果顺序与 Bindings 一致
func (v *View) Resolve(opts ...ResolveOption) Result {
	o := buildResolutionOptions(opts)

	v.mu.Lock()
	defer v.mu.Unlock()
	bindings := v.bindingsLocked()
	if v.values != nil {
		return *v.values
	}
	r := resolveBindings(v.c, bindings, o.Session)
	if r.err != nil {
		return r
	}
	if !r.IsPending() {
		v.values = &r
		return r
	}
	// 异步结果只在成功且绑定集合未变化时缓存
	rev := v.rev
	return r.Then(func(val any) Result {
		v.storeValues(rev, val)
		return Ready(val)
	})
}

func (v *View) storeValues(rev uint64, val any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.values != nil || v.stale || v.rev != rev || (!v.closed && v.c.revision() != rev) {
		return
	}
	ready := Ready(val)
	v.values = &ready
}

// Values 解析并等待全部值
func (v *View) Values(ctx context.Context) ([]any, error) {
	val, err := v.Resolve().Await(ctx)
	if err != nil {
		return nil, err
	}
	values, _ := val.([]any)
	return values, nil
}

// SingleValue 要求恰好一个匹配
func (v *View) SingleValue(ctx context.Context) (any, error) {
	values, err := v.Values(ctx)
	if err != nil {
		return nil, err
	}
	switch len(values) {
	case 0:
		return nil, newError(KindKeyNotBound, "", "no binding matches the view filter in context %s", v.c.Name())
	case 1:
		return values[0], nil
	default:
		return nil, newError(KindAmbiguousBinding, "", "the view of context %s has %d matching bindings, expected exactly one", v.c.Name(), len(values))
	}
}

// Close 停止观察；可重复调用
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.bindingsLocked()
	v.closed = true
	v.mu.Unlock()
	v.sub.Unsubscribe()
}

// Closed 是否已关闭
func (v *View) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
