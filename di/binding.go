package di

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// BindingScope 定义绑定值的缓存范围
type BindingScope int

const (
	// ScopeTransient 每次解析都重新计算（默认）
	ScopeTransient BindingScope = iota
	// ScopeContext 每个发起解析的上下文缓存一份
	ScopeContext
	// ScopeSingleton 在拥有该绑定的上下文中缓存一份
	ScopeSingleton
	// ScopeApplication 缓存在最近的 Application 作用域上下文
	ScopeApplication
	// ScopeServer 缓存在最近的 Server 作用域上下文
	ScopeServer
	// ScopeRequest 缓存在最近的 Request 作用域上下文
	ScopeRequest
)

func (s BindingScope) String() string {
	switch s {
	case ScopeTransient:
		return "Transient"
	case ScopeContext:
		return "Context"
	case ScopeSingleton:
		return "Singleton"
	case ScopeApplication:
		return "Application"
	case ScopeServer:
		return "Server"
	case ScopeRequest:
		return "Request"
	default:
		return fmt.Sprintf("BindingScope(%d)", int(s))
	}
}

// BindingType 值来源的类型
type BindingType int

const (
	TypeUnset BindingType = iota
	TypeConstant
	TypeDynamicValue
	TypeClass
	TypeProvider
	TypeAlias
)

func (t BindingType) String() string {
	switch t {
	case TypeConstant:
		return "Constant"
	case TypeDynamicValue:
		return "DynamicValue"
	case TypeClass:
		return "Class"
	case TypeProvider:
		return "Provider"
	case TypeAlias:
		return "Alias"
	default:
		return "Unset"
	}
}

// ResolutionContext 传递给值来源的解析上下文
type ResolutionContext struct {
	// Context 按作用域选出的解析上下文
	Context *Context
	Binding *Binding
	Options ResolutionOptions
}

// ValueFactory 动态值工厂，可以返回就绪或等待中的结果
type ValueFactory func(rc *ResolutionContext) Result

// Factory 把普通同步函数适配为 ValueFactory
func Factory(fn func() (any, error)) ValueFactory {
	return func(*ResolutionContext) Result {
		v, err := fn()
		if err != nil {
			return Failed(err)
		}
		return Ready(v)
	}
}

// AsyncFactory 把阻塞函数适配为异步 ValueFactory
func AsyncFactory(fn func(ctx context.Context) (any, error)) ValueFactory {
	return func(*ResolutionContext) Result {
		return Async(func() (any, error) {
			return fn(context.Background())
		})
	}
}

// ValueProvider 未注册 Value 方法元数据时，Provider 实例需实现此接口
type ValueProvider interface {
	Value() (any, error)
}

// BindingTemplate 可复用的绑定配置
type BindingTemplate func(b *Binding)

type valueSource interface {
	bindingType() BindingType
	resolve(rc *ResolutionContext) Result
}

type constantSource struct{ value any }

func (constantSource) bindingType() BindingType { return TypeConstant }
func (s constantSource) resolve(*ResolutionContext) Result {
	return Result{value: s.value}
}

type dynamicSource struct{ factory ValueFactory }

func (dynamicSource) bindingType() BindingType { return TypeDynamicValue }
func (s dynamicSource) resolve(rc *ResolutionContext) Result {
	return s.factory(rc)
}

type classSource struct{ class *ClassMeta }

func (classSource) bindingType() BindingType { return TypeClass }
func (s classSource) resolve(rc *ResolutionContext) Result {
	return instantiate(s.class, rc.Context, rc.Options.Session, nil)
}

type providerSource struct{ class *ClassMeta }

func (providerSource) bindingType() BindingType { return TypeProvider }
func (s providerSource) resolve(rc *ResolutionContext) Result {
	return instantiate(s.class, rc.Context, rc.Options.Session, nil).Then(func(inst any) Result {
		if mm := s.class.lookupMethod("Value"); mm != nil {
			return invokeWithInjection(mm, inst, rc.Context, rc.Options.Session, nil)
		}
		p, ok := inst.(ValueProvider)
		if !ok {
			return Failed(newError(KindTypeMismatch, rc.Binding.Key(),
				"provider %s neither registers a Value method nor implements ValueProvider", s.class.Name()))
		}
		v, err := p.Value()
		if err != nil {
			return Failed(err)
		}
		return Ready(v)
	})
}

type aliasSource struct {
	key  string
	path string
}

func (aliasSource) bindingType() BindingType { return TypeAlias }
func (s aliasSource) resolve(rc *ResolutionContext) Result {
	return rc.Context.resolveKey(s.key, s.path, ResolutionOptions{
		Session:  rc.Options.Session,
		Optional: rc.Options.Optional,
	})
}

type tagEntry struct {
	name  string
	value string
}

// Binding 一个可解析的条目：key、值来源、作用域、标签与锁
type Binding struct {
	key string

	mu       sync.RWMutex
	scope    BindingScope
	scopeSet bool
	source   valueSource
	tags     []tagEntry
	locked   bool
	gen      uint64
	owner    *Context
}

// NewBinding 创建一个尚未加入任何上下文的绑定
func NewBinding(key string) (*Binding, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return &Binding{key: key}, nil
}

// Key 返回绑定 key
func (b *Binding) Key() string {
	return b.key
}

// Scope 返回作用域
func (b *Binding) Scope() BindingScope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scope
}

// Type 返回值来源类型
func (b *Binding) Type() BindingType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.source == nil {
		return TypeUnset
	}
	return b.source.bindingType()
}

// IsLocked 是否已锁定
func (b *Binding) IsLocked() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.locked
}

// Lock 锁定后不允许重新绑定或解绑
func (b *Binding) Lock() *Binding {
	b.mu.Lock()
	b.locked = true
	b.mu.Unlock()
	return b
}

// Unlock 解除锁定
func (b *Binding) Unlock() *Binding {
	b.mu.Lock()
	b.locked = false
	b.mu.Unlock()
	return b
}

// InScope 设置作用域，并使已缓存的值失效
func (b *Binding) InScope(scope BindingScope) *Binding {
	b.mu.Lock()
	b.scope = scope
	b.scopeSet = true
	b.gen++
	b.mu.Unlock()
	return b
}

// DefaultScope 仅在未显式设置作用域时生效
func (b *Binding) DefaultScope(scope BindingScope) *Binding {
	b.mu.RLock()
	set := b.scopeSet
	b.mu.RUnlock()
	if set {
		return b
	}
	return b.InScope(scope)
}

// Tag 添加名称标签（值等于名称）
func (b *Binding) Tag(names ...string) *Binding {
	b.mu.Lock()
	for _, name := range names {
		b.setTagLocked(name, name)
	}
	b.mu.Unlock()
	b.tagsChanged()
	return b
}

// TagValue 添加带值的标签
func (b *Binding) TagValue(name, value string) *Binding {
	b.mu.Lock()
	b.setTagLocked(name, value)
	b.mu.Unlock()
	b.tagsChanged()
	return b
}

// TagMap 批量添加标签，按名称排序以保证顺序稳定
func (b *Binding) TagMap(tags map[string]string) *Binding {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	b.mu.Lock()
	for _, name := range names {
		b.setTagLocked(name, tags[name])
	}
	b.mu.Unlock()
	b.tagsChanged()
	return b
}

func (b *Binding) setTagLocked(name, value string) {
	for i := range b.tags {
		if b.tags[i].name == name {
			b.tags[i].value = value
			return
		}
	}
	b.tags = append(b.tags, tagEntry{name: name, value: value})
}

// Tags 返回标签副本
func (b *Binding) Tags() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.tags))
	for _, t := range b.tags {
		out[t.name] = t.value
	}
	return out
}

// TagNames 按添加顺序返回标签名
func (b *Binding) TagNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.tags))
	for i, t := range b.tags {
		out[i] = t.name
	}
	return out
}

// LookupTag 查找标签值
func (b *Binding) LookupTag(name string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.tags {
		if t.name == name {
			return t.value, true
		}
	}
	return "", false
}

// To 绑定常量；传入 Future 或 Result 会 panic，应改用 ToDynamicValue
func (b *Binding) To(value any) *Binding {
	if isAwaitable(value) {
		panic(newError(KindInvalidValue, b.key,
			"binding %s: the value must not be a future, use ToDynamicValue instead", b.key))
	}
	return b.setSource(constantSource{value: value})
}

// ToDynamicValue 绑定动态值工厂
func (b *Binding) ToDynamicValue(factory ValueFactory) *Binding {
	return b.setSource(dynamicSource{factory: factory})
}

// ToClass 绑定到类：构造函数、*ClassMeta、reflect.Type 或类型的 nil 指针
func (b *Binding) ToClass(class any) *Binding {
	return b.setSource(classSource{class: classOf(class)})
}

// ToProvider 绑定到 Provider 类，其 Value 方法的返回值即绑定值
func (b *Binding) ToProvider(class any) *Binding {
	return b.setSource(providerSource{class: classOf(class)})
}

// ToAlias 绑定为另一个 key 的别名，支持 "key#path"
func (b *Binding) ToAlias(keyWithPath string) *Binding {
	key, path, err := ParseKeyWithPath(keyWithPath)
	if err != nil {
		panic(err)
	}
	return b.setSource(aliasSource{key: key, path: path})
}

// Apply 应用绑定模板
func (b *Binding) Apply(templates ...BindingTemplate) *Binding {
	for _, t := range templates {
		t(b)
	}
	return b
}

func (b *Binding) setSource(src valueSource) *Binding {
	b.mu.Lock()
	b.source = src
	b.gen++
	b.mu.Unlock()
	return b
}

func (b *Binding) snapshot() (BindingScope, valueSource, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scope, b.source, b.gen
}

func (b *Binding) generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gen
}

func (b *Binding) ownerContext() *Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.owner
}

// setOwner 在注册或移除时调用；递增代数，使各上下文中的缓存值失效
func (b *Binding) setOwner(c *Context) {
	b.mu.Lock()
	b.owner = c
	b.gen++
	b.mu.Unlock()
}

func (b *Binding) tagsChanged() {
	if owner := b.ownerContext(); owner != nil {
		owner.reindex(b)
	}
}

// GetValue 在上下文 c 中解析绑定值
func (b *Binding) GetValue(c *Context, opts ...ResolveOption) Result {
	return b.getValue(c, buildResolutionOptions(opts))
}

func (b *Binding) getValue(c *Context, o ResolutionOptions) Result {
	scope, src, gen := b.snapshot()
	if src == nil {
		return Failed(newError(KindKeyNotBound, b.key, "no value was configured for binding %s", b.key))
	}

	resCtx, err := c.GetResolutionContext(b)
	if err != nil {
		return Failed(err)
	}
	session := o.Session
	if session == nil {
		session = NewResolutionSession()
	}
	// 先入栈再查缓存：等待中的单例被自身依赖再次解析时报循环依赖，而不是互相等待
	if err := session.pushBinding(b); err != nil {
		return Failed(err)
	}
	if scope != ScopeTransient {
		if r, ok := resCtx.cachedResult(b, gen); ok {
			session.popBinding()
			return r
		}
	}

	rc := &ResolutionContext{Context: resCtx, Binding: b, Options: o}
	rc.Options.Session = session
	r := src.resolve(rc).Finally(session.popBinding)

	if scope != ScopeTransient {
		r = resCtx.storeResult(b, gen, r)
	}
	return r
}

// Inspect 返回便于序列化的描述
func (b *Binding) Inspect() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tags := make(map[string]string, len(b.tags))
	for _, t := range b.tags {
		tags[t.name] = t.value
	}
	typ := TypeUnset
	if b.source != nil {
		typ = b.source.bindingType()
	}
	out := map[string]any{
		"key":      b.key,
		"scope":    b.scope.String(),
		"type":     typ.String(),
		"isLocked": b.locked,
		"tags":     tags,
	}
	if cs, ok := b.source.(classSource); ok {
		out["valueConstructor"] = cs.class.Name()
	}
	if ps, ok := b.source.(providerSource); ok {
		out["providerConstructor"] = ps.class.Name()
	}
	if as, ok := b.source.(aliasSource); ok {
		out["alias"] = as.key
	}
	return out
}

func (b *Binding) String() string {
	return fmt.Sprintf("Binding(%s)", b.key)
}
