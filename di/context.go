package di

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gocrud/inject/logging"
	"github.com/google/uuid"
)

// Context 绑定注册表树中的一个节点。
// 查找先看自身，再沿父链向上；子上下文只持有父指针，父上下文不持有子上下文。
type Context struct {
	name   string
	parent *Context
	scope  BindingScope
	logger logging.Logger

	mu       sync.RWMutex
	registry map[string]*registration
	seq      uint64
	tags     *tagIndex
	rev      atomic.Uint64

	cacheMu sync.Mutex
	cache   map[*Binding]cacheEntry

	subs *subscriptionManager
}

type registration struct {
	binding *Binding
	seq     uint64
}

type cacheEntry struct {
	gen    uint64
	result Result
}

// ContextOption 上下文选项
type ContextOption func(*Context)

// WithScope 把上下文标记为 Application/Server/Request 作用域边界
func WithScope(scope BindingScope) ContextOption {
	return func(c *Context) {
		c.scope = scope
	}
}

// WithLogger 设置日志记录器，未设置时继承父上下文
func WithLogger(logger logging.Logger) ContextOption {
	return func(c *Context) {
		c.logger = logger
	}
}

// NewContext 创建上下文；name 为空时生成 uuid
func NewContext(parent *Context, name string, opts ...ContextOption) *Context {
	if name == "" {
		name = uuid.NewString()
	}
	c := &Context{
		name:     name,
		parent:   parent,
		registry: make(map[string]*registration),
		tags:     newTagIndex(),
		cache:    make(map[*Binding]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		if parent != nil {
			c.logger = parent.logger
		} else {
			c.logger = logging.Nop()
		}
	}
	c.subs = newSubscriptionManager(c)
	return c
}

// NewChild 创建子上下文
func (c *Context) NewChild(name string, opts ...ContextOption) *Context {
	return NewContext(c, name, opts...)
}

// Name 上下文名称
func (c *Context) Name() string { return c.name }

// Parent 父上下文
func (c *Context) Parent() *Context { return c.parent }

// Scope 上下文的作用域标记，未标记时为 ScopeTransient
func (c *Context) Scope() BindingScope { return c.scope }

// Logger 上下文使用的日志记录器
func (c *Context) Logger() logging.Logger { return c.logger }

// Bind 创建并注册绑定；已存在的未锁定绑定会被替换
func (c *Context) Bind(key string) (*Binding, error) {
	b, err := NewBinding(key)
	if err != nil {
		return nil, err
	}
	if err := c.Add(b); err != nil {
		return nil, err
	}
	return b, nil
}

// MustBind 同 Bind，出错时 panic
func (c *Context) MustBind(key string) *Binding {
	b, err := c.Bind(key)
	if err != nil {
		panic(err)
	}
	return b
}

// Add 注册一个已创建的绑定
func (c *Context) Add(b *Binding) error {
	key := b.Key()
	if owner := b.ownerContext(); owner != nil && owner != c {
		return newError(KindInvalidValue, key, "binding '%s' is already owned by context %s", key, owner.Name())
	}

	c.mu.Lock()
	var replaced *Binding
	if existing, ok := c.registry[key]; ok {
		if existing.binding.IsLocked() {
			c.mu.Unlock()
			return newError(KindRebindLockedKey, key, "cannot rebind key '%s' to a locked binding", key)
		}
		replaced = existing.binding
		c.tags.remove(replaced)
		if replaced != b {
			replaced.setOwner(nil)
		}
	}
	c.seq++
	c.registry[key] = &registration{binding: b, seq: c.seq}
	b.setOwner(c)
	c.tags.add(b)
	c.rev.Add(1)
	c.mu.Unlock()

	if replaced != nil {
		c.dropCache(replaced)
		c.emit(ContextEvent{Type: EventUnbind, Binding: replaced, Context: c})
	}
	c.emit(ContextEvent{Type: EventBind, Binding: b, Context: c})
	c.logger.Trace("Binding registered",
		logging.Field{Key: "context", Value: c.name},
		logging.Field{Key: "key", Value: key})
	return nil
}

// Unbind 只从自身注册表移除；不存在时返回 false
func (c *Context) Unbind(key string) (bool, error) {
	c.mu.Lock()
	reg, ok := c.registry[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	if reg.binding.IsLocked() {
		c.mu.Unlock()
		return false, newError(KindUnbindLockedKey, key, "cannot unbind key '%s' of a locked binding", key)
	}
	delete(c.registry, key)
	c.tags.remove(reg.binding)
	reg.binding.setOwner(nil)
	c.rev.Add(1)
	c.mu.Unlock()

	c.dropCache(reg.binding)
	c.emit(ContextEvent{Type: EventUnbind, Binding: reg.binding, Context: c})
	c.logger.Trace("Binding removed",
		logging.Field{Key: "context", Value: c.name},
		logging.Field{Key: "key", Value: key})
	return true, nil
}

// Contains 自身注册表是否包含 key
func (c *Context) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.registry[key]
	return ok
}

// IsBound 自身或祖先是否包含 key
func (c *Context) IsBound(key string) bool {
	return c.lookupBinding(key) != nil
}

// GetOwnerContext 返回第一个包含 key 的上下文
func (c *Context) GetOwnerContext(key string) *Context {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if ctx.Contains(key) {
			return ctx
		}
	}
	return nil
}

// GetBinding 沿父链查找绑定
func (c *Context) GetBinding(key string) (*Binding, error) {
	if b := c.lookupBinding(key); b != nil {
		return b, nil
	}
	return nil, keyNotBound(key, c)
}

// FindOrCreateBinding 返回自身的绑定，不存在时创建
func (c *Context) FindOrCreateBinding(key string) (*Binding, error) {
	c.mu.RLock()
	reg, ok := c.registry[key]
	c.mu.RUnlock()
	if ok {
		return reg.binding, nil
	}
	return c.Bind(key)
}

func (c *Context) lookupBinding(key string) *Binding {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		ctx.mu.RLock()
		reg, ok := ctx.registry[key]
		ctx.mu.RUnlock()
		if ok {
			return reg.binding
		}
	}
	return nil
}

// Find 返回匹配的绑定：自身按注册顺序在前，祖先在后，被自身遮蔽的 key 会被排除
func (c *Context) Find(filter BindingFilter) []*Binding {
	if filter == nil {
		filter = MatchAll
	}
	result := c.findOwn(filter)
	if c.parent == nil {
		return result
	}

	inherited := c.parent.Find(filter)
	c.mu.RLock()
	for _, b := range inherited {
		if _, shadowed := c.registry[b.Key()]; !shadowed {
			result = append(result, b)
		}
	}
	c.mu.RUnlock()
	return result
}

// FindByTag 按标签名（或 glob）查找
func (c *Context) FindByTag(tag string) []*Binding {
	return c.Find(ByTag(tag))
}

// FindByTagMap 按标签名与值查找
func (c *Context) FindByTagMap(tags map[string]string) []*Binding {
	return c.Find(ByTagMap(tags))
}

func (c *Context) findOwn(filter BindingFilter) []*Binding {
	c.mu.RLock()
	var candidates []*registration
	indexed := false
	if idx, ok := filter.(indexedFilter); ok {
		if tag, ok := idx.indexTag(); ok {
			indexed = true
			for _, b := range c.tags.lookup(tag) {
				if reg := c.registry[b.Key()]; reg != nil && reg.binding == b {
					candidates = append(candidates, reg)
				}
			}
		}
	}
	if !indexed {
		candidates = make([]*registration, 0, len(c.registry))
		for _, reg := range c.registry {
			candidates = append(candidates, reg)
		}
	}
	c.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].seq < candidates[j].seq
	})
	out := make([]*Binding, 0, len(candidates))
	for _, reg := range candidates {
		if filter.Match(reg.binding) {
			out = append(out, reg.binding)
		}
	}
	return out
}

func (c *Context) reindex(b *Binding) {
	c.mu.Lock()
	if reg, ok := c.registry[b.Key()]; ok && reg.binding == b {
		c.tags.remove(b)
		c.tags.add(b)
	}
	c.rev.Add(1)
	c.mu.Unlock()
}

// revision 自身与祖先的修改计数之和，用于视图判断是否过期
func (c *Context) revision() uint64 {
	var sum uint64
	for ctx := c; ctx != nil; ctx = ctx.parent {
		sum += ctx.rev.Load()
	}
	return sum
}

func (c *Context) cachedResult(b *Binding, gen uint64) (Result, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	entry, ok := c.cache[b]
	if !ok {
		return Result{}, false
	}
	if entry.gen != gen {
		delete(c.cache, b)
		return Result{}, false
	}
	return entry.result, true
}

// storeResult 按生成号写入缓存；绑定在解析期间发生变化时丢弃写入
func (c *Context) storeResult(b *Binding, gen uint64, r Result) Result {
	if r.err != nil || b.generation() != gen {
		return r
	}
	c.cacheMu.Lock()
	c.cache[b] = cacheEntry{gen: gen, result: r}
	c.cacheMu.Unlock()

	if f := r.future; f != nil {
		go func() {
			<-f.Done()
			c.cacheMu.Lock()
			defer c.cacheMu.Unlock()
			entry, ok := c.cache[b]
			if !ok || entry.result.future != f {
				return
			}
			if f.err != nil || b.generation() != gen {
				delete(c.cache, b)
				return
			}
			c.cache[b] = cacheEntry{gen: gen, result: Result{value: f.value}}
		}()
	}
	return r
}

func (c *Context) dropCache(b *Binding) {
	c.cacheMu.Lock()
	delete(c.cache, b)
	c.cacheMu.Unlock()
}

// Close 移除观察者与父上下文的事件转发；绑定与父指针保持不变
func (c *Context) Close() {
	c.subs.close()
	c.logger.Trace("Context closed", logging.Field{Key: "context", Value: c.name})
}

// Inspect 返回上下文及其祖先的描述
func (c *Context) Inspect() map[string]any {
	c.mu.RLock()
	regs := make([]*registration, 0, len(c.registry))
	for _, reg := range c.registry {
		regs = append(regs, reg)
	}
	c.mu.RUnlock()
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	bindings := make(map[string]any, len(regs))
	for _, reg := range regs {
		bindings[reg.binding.Key()] = reg.binding.Inspect()
	}
	out := map[string]any{
		"name":     c.name,
		"bindings": bindings,
	}
	if c.scope != ScopeTransient {
		out["scope"] = c.scope.String()
	}
	if c.parent != nil {
		out["parent"] = c.parent.Inspect()
	}
	return out
}

func (c *Context) String() string {
	return "Context(" + c.name + ")"
}

// tagIndex 标签名到绑定集合的索引
type tagIndex struct {
	byTag map[string]map[*Binding]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{byTag: make(map[string]map[*Binding]struct{})}
}

func (t *tagIndex) add(b *Binding) {
	for _, name := range b.TagNames() {
		set, ok := t.byTag[name]
		if !ok {
			set = make(map[*Binding]struct{})
			t.byTag[name] = set
		}
		set[b] = struct{}{}
	}
}

func (t *tagIndex) remove(b *Binding) {
	for name, set := range t.byTag {
		delete(set, b)
		if len(set) == 0 {
			delete(t.byTag, name)
		}
	}
}

func (t *tagIndex) lookup(name string) []*Binding {
	set := t.byTag[name]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Binding, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	return out
}
