package di

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gocrud/inject/logging"
)

// ContextEventType 上下文事件类型
type ContextEventType string

const (
	EventBind   ContextEventType = "bind"
	EventUnbind ContextEventType = "unbind"
)

// ContextEvent 注册表变更事件
type ContextEvent struct {
	Type    ContextEventType
	Binding *Binding
	// Context 发生变更的上下文（可能是观察者所在上下文的祖先）
	Context *Context
}

// Observer 上下文观察者，通知在独立的 goroutine 中异步投递
type Observer interface {
	Observe(event ContextEvent) error
}

// FilteredObserver 只接收匹配过滤器的事件
type FilteredObserver interface {
	Observer
	Filter() BindingFilter
}

// ObserverFunc 函数形式的观察者
type ObserverFunc func(event ContextEvent) error

func (f ObserverFunc) Observe(event ContextEvent) error { return f(event) }

type observerEntry struct {
	observer Observer
	active   atomic.Bool
}

// Subscription 订阅句柄
type Subscription struct {
	manager *subscriptionManager
	entry   *observerEntry
	once    sync.Once
}

// Unsubscribe 取消订阅，可重复调用
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.manager.unsubscribe(s.entry)
	})
}

// Closed 是否已取消
func (s *Subscription) Closed() bool {
	return !s.entry.active.Load()
}

type childHook struct {
	handle func(ContextEvent)
}

type queuedEvent struct {
	event     ContextEvent
	observers []*observerEntry
}

// subscriptionManager 管理一个上下文的观察者、向父上下文注册的转发钩子以及通知队列。
// 通知队列按绑定 key 分成若干 FIFO 子队列，每个子队列由单独的 goroutine 顺序投递。
type subscriptionManager struct {
	ctx *Context

	mu            sync.Mutex
	observers     []*observerEntry
	childHooks    []*childHook
	parentHook    *childHook
	errorHandlers []func(error)

	queues  map[string][]queuedEvent
	running map[string]bool
	pending int
	idle    chan struct{}
}

func newSubscriptionManager(c *Context) *subscriptionManager {
	return &subscriptionManager{
		ctx:     c,
		queues:  make(map[string][]queuedEvent),
		running: make(map[string]bool),
	}
}

// Subscribe 订阅自身及祖先上下文的 bind/unbind 事件
func (c *Context) Subscribe(observer Observer) *Subscription {
	entry := &observerEntry{observer: observer}
	entry.active.Store(true)

	m := c.subs
	m.mu.Lock()
	m.observers = append(m.observers, entry)
	m.attachLocked()
	m.mu.Unlock()
	return &Subscription{manager: m, entry: entry}
}

// Unsubscribe 取消订阅；订阅不属于该上下文或已取消时返回 false
func (c *Context) Unsubscribe(sub *Subscription) bool {
	if sub == nil || sub.manager != c.subs || sub.Closed() {
		return false
	}
	sub.Unsubscribe()
	return true
}

// IsSubscribed 订阅是否仍然有效
func (c *Context) IsSubscribed(sub *Subscription) bool {
	return sub != nil && sub.manager == c.subs && !sub.Closed()
}

// OnError 注册观察者错误的处理函数
func (c *Context) OnError(handler func(err error)) {
	c.subs.mu.Lock()
	c.subs.errorHandlers = append(c.subs.errorHandlers, handler)
	c.subs.mu.Unlock()
}

// WaitForObserversNotified 等待当前排队的通知全部投递完毕
func (c *Context) WaitForObserversNotified(ctx context.Context) error {
	m := c.subs
	m.mu.Lock()
	if m.pending == 0 {
		m.mu.Unlock()
		return nil
	}
	if m.idle == nil {
		m.idle = make(chan struct{})
	}
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Context) emit(event ContextEvent) {
	c.subs.handle(event)
}

func (m *subscriptionManager) handle(event ContextEvent) {
	m.mu.Lock()
	if len(m.observers) > 0 {
		observers := append([]*observerEntry(nil), m.observers...)
		m.enqueueLocked(event, observers)
	}
	hooks := append([]*childHook(nil), m.childHooks...)
	m.mu.Unlock()

	for _, h := range hooks {
		h.handle(event)
	}
}

func (m *subscriptionManager) enqueueLocked(event ContextEvent, observers []*observerEntry) {
	key := event.Binding.Key()
	m.queues[key] = append(m.queues[key], queuedEvent{event: event, observers: observers})
	m.pending++
	if !m.running[key] {
		m.running[key] = true
		go m.drain(key)
	}
}

func (m *subscriptionManager) drain(key string) {
	for {
		m.mu.Lock()
		queue := m.queues[key]
		if len(queue) == 0 {
			delete(m.queues, key)
			delete(m.running, key)
			m.mu.Unlock()
			return
		}
		item := queue[0]
		m.queues[key] = queue[1:]
		m.mu.Unlock()

		m.deliver(item)

		m.mu.Lock()
		m.pending--
		if m.pending == 0 && m.idle != nil {
			close(m.idle)
			m.idle = nil
		}
		m.mu.Unlock()
	}
}

func (m *subscriptionManager) deliver(item queuedEvent) {
	for _, entry := range item.observers {
		if !entry.active.Load() {
			continue
		}
		if fo, ok := entry.observer.(FilteredObserver); ok {
			if f := fo.Filter(); f != nil && !f.Match(item.event.Binding) {
				continue
			}
		}
		if err := entry.observer.Observe(item.event); err != nil {
			origin := item.event.Context
			if origin == nil {
				origin = m.ctx
			}
			origin.reportError(err)
		}
	}
}

// reportError 从当前上下文开始向上寻找注册了错误处理函数的上下文
func (c *Context) reportError(err error) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		ctx.subs.mu.Lock()
		handlers := slices.Clone(ctx.subs.errorHandlers)
		ctx.subs.mu.Unlock()
		if len(handlers) == 0 {
			continue
		}
		for _, h := range handlers {
			h(err)
		}
		return
	}
	c.logger.Error("Unhandled error in context observer",
		logging.Field{Key: "context", Value: c.name},
		logging.Field{Key: "error", Value: err.Error()})
}

func (m *subscriptionManager) unsubscribe(entry *observerEntry) {
	entry.active.Store(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.observers {
		if e == entry {
			m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
			break
		}
	}
	m.detachIfIdleLocked()
}

// attachLocked 确保父上下文会把事件转发给自己
func (m *subscriptionManager) attachLocked() {
	parent := m.ctx.parent
	if parent == nil || m.parentHook != nil {
		return
	}
	m.parentHook = parent.subs.addChildHook(m.handle)
}

func (m *subscriptionManager) detachIfIdleLocked() {
	if len(m.observers) > 0 || len(m.childHooks) > 0 || m.parentHook == nil {
		return
	}
	hook := m.parentHook
	m.parentHook = nil
	m.ctx.parent.subs.removeChildHook(hook)
}

func (m *subscriptionManager) addChildHook(handle func(ContextEvent)) *childHook {
	hook := &childHook{handle: handle}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.childHooks = append(m.childHooks, hook)
	m.attachLocked()
	return hook
}

func (m *subscriptionManager) removeChildHook(hook *childHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.childHooks {
		if h == hook {
			m.childHooks = append(m.childHooks[:i:i], m.childHooks[i+1:]...)
			break
		}
	}
	m.detachIfIdleLocked()
}

func (m *subscriptionManager) close() {
	m.mu.Lock()
	for _, e := range m.observers {
		e.active.Store(false)
	}
	m.observers = nil
	hook := m.parentHook
	m.parentHook = nil
	m.mu.Unlock()

	if hook != nil {
		m.ctx.parent.subs.removeChildHook(hook)
	}
}
