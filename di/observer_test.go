package di_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []di.ContextEvent
}

func (r *recorder) Observe(e di.ContextEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// forKey 返回某个 key 的事件，例如 "bind", "unbind"
func (r *recorder) forKey(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Binding.Key() == key {
			out = append(out, string(e.Type))
		}
	}
	return out
}

func (r *recorder) bindingsFor(key string) []*di.Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*di.Binding
	for _, e := range r.events {
		if e.Binding.Key() == key {
			out = append(out, e.Binding)
		}
	}
	return out
}

// add 先配置好绑定再注册，观察者看到的是完整的绑定
func add(t *testing.T, ctx *di.Context, key string, value any, tags ...string) *di.Binding {
	t.Helper()
	b, err := di.NewBinding(key)
	require.NoError(t, err)
	b.To(value).Tag(tags...)
	require.NoError(t, ctx.Add(b))
	return b
}

func waitNotified(t *testing.T, ctx *di.Context) {
	t.Helper()
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ctx.WaitForObserversNotified(wctx))
}

func TestObserverOrderPerKey(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	rec := &recorder{}
	sub := ctx.Subscribe(rec)
	assert.True(t, ctx.IsSubscribed(sub))

	var as, bs []*di.Binding
	for i := 0; i < 3; i++ {
		as = append(as, add(t, ctx, "a", i))
		bs = append(bs, add(t, ctx, "b", i*10))
	}
	_, err := ctx.Unbind("a")
	require.NoError(t, err)
	waitNotified(t, ctx)

	assert.Equal(t, []string{"bind", "unbind", "bind", "unbind", "bind", "unbind"}, rec.forKey("a"))
	assert.Equal(t, []*di.Binding{as[0], as[0], as[1], as[1], as[2], as[2]}, rec.bindingsFor("a"))
	assert.Equal(t, []string{"bind", "unbind", "bind", "unbind", "bind"}, rec.forKey("b"))
	assert.Equal(t, []*di.Binding{bs[0], bs[0], bs[1], bs[1], bs[2]}, rec.bindingsFor("b"))
}

func TestUnsubscribe(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	rec := &recorder{}
	sub := ctx.Subscribe(rec)

	ctx.MustBind("a").To(1)
	waitNotified(t, ctx)

	assert.True(t, ctx.Unsubscribe(sub))
	assert.False(t, ctx.Unsubscribe(sub))
	assert.False(t, ctx.IsSubscribed(sub))

	ctx.MustBind("b").To(2)
	waitNotified(t, ctx)
	assert.Len(t, rec.forKey("a"), 1)
	assert.Empty(t, rec.forKey("b"))
}

type tagObserver struct {
	recorder
	tag string
}

func (o *tagObserver) Filter() di.BindingFilter {
	return di.ByTag(o.tag)
}

func TestFilteredObserverAndParentEvents(t *testing.T) {
	parent := di.NewContext(nil, "parent")
	child := parent.NewChild("child")

	obs := &tagObserver{tag: "route"}
	sub := child.Subscribe(obs)

	home := add(t, parent, "routes.home", "/", "route")
	add(t, parent, "other", 1)
	add(t, child, "routes.about", "/about", "route")
	waitNotified(t, child)

	assert.Equal(t, []string{"bind"}, obs.forKey("routes.home"))
	assert.Equal(t, []string{"bind"}, obs.forKey("routes.about"))
	assert.Empty(t, obs.forKey("other"))
	assert.Equal(t, []*di.Binding{home}, obs.bindingsFor("routes.home"))
	obs.mu.Lock()
	for _, e := range obs.events {
		if e.Binding == home {
			assert.Same(t, parent, e.Context)
		}
	}
	obs.mu.Unlock()

	// 取消后父上下文事件不再转发
	sub.Unsubscribe()
	add(t, parent, "routes.faq", "/faq", "route")
	waitNotified(t, child)
	assert.Empty(t, obs.forKey("routes.faq"))
}

func TestCloseDetachesObservers(t *testing.T) {
	parent := di.NewContext(nil, "parent")
	child := parent.NewChild("child")
	rec := &recorder{}
	sub := child.Subscribe(rec)

	child.Close()
	assert.True(t, sub.Closed())

	parent.MustBind("x").To(1)
	child.MustBind("y").To(2)
	waitNotified(t, child)
	assert.Empty(t, rec.forKey("x"))
	assert.Empty(t, rec.forKey("y"))

	// 绑定在关闭后仍然可以解析
	v, err := child.GetSync("x")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestObserverErrorRouting(t *testing.T) {
	root := di.NewContext(nil, "root")
	mid := root.NewChild("mid")
	leaf := mid.NewChild("leaf")

	rootErrs := make(chan error, 4)
	midErrs := make(chan error, 4)
	root.OnError(func(err error) { rootErrs <- err })

	failing := di.ObserverFunc(func(e di.ContextEvent) error {
		return fmt.Errorf("cannot handle %s", e.Binding.Key())
	})
	leaf.Subscribe(failing)

	leaf.MustBind("first").To(1)
	waitNotified(t, leaf)
	select {
	case err := <-rootErrs:
		assert.EqualError(t, err, "cannot handle first")
	case <-time.After(time.Second):
		t.Fatal("root error handler was not called")
	}

	// 更近的处理函数优先
	mid.OnError(func(err error) { midErrs <- err })
	leaf.MustBind("second").To(2)
	waitNotified(t, leaf)
	select {
	case err := <-midErrs:
		assert.EqualError(t, err, "cannot handle second")
	case <-time.After(time.Second):
		t.Fatal("mid error handler was not called")
	}
	assert.Empty(t, rootErrs)
}

func TestObserverErrorStartsAtMutatingContext(t *testing.T) {
	parent := di.NewContext(nil, "parent")
	child := parent.NewChild("child")

	parentErrs := make(chan error, 4)
	childErrs := make(chan error, 4)
	parent.OnError(func(err error) { parentErrs <- err })
	child.OnError(func(err error) { childErrs <- err })

	child.Subscribe(di.ObserverFunc(func(e di.ContextEvent) error {
		return fmt.Errorf("rejected %s", e.Binding.Key())
	}))

	parent.MustBind("shared").To(1)
	waitNotified(t, child)
	select {
	case err := <-parentErrs:
		assert.EqualError(t, err, "rejected shared")
	case <-time.After(time.Second):
		t.Fatal("parent error handler was not called")
	}
	assert.Empty(t, childErrs)

	child.MustBind("local").To(2)
	waitNotified(t, child)
	select {
	case err := <-childErrs:
		assert.EqualError(t, err, "rejected local")
	case <-time.After(time.Second):
		t.Fatal("child error handler was not called")
	}
	assert.Empty(t, parentErrs)
}

func TestWaitForObserversNotifiedTimeout(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	release := make(chan struct{})
	ctx.Subscribe(di.ObserverFunc(func(di.ContextEvent) error {
		<-release
		return nil
	}))
	ctx.MustBind("slow").To(1)

	wctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ctx.WaitForObserversNotified(wctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	waitNotified(t, ctx)
}

func TestViewConsistency(t *testing.T) {
	parent := di.NewContext(nil, "parent")
	ctx := parent.NewChild("ctx")
	view := ctx.CreateView(di.ByTag("foo"), nil)

	values, err := view.Values(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values)

	ctx.MustBind("a").To(1).Tag("foo")
	values, err = view.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{1}, values)

	parent.MustBind("b").To(2).Tag("foo")
	values, err = view.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, values)

	_, err = ctx.Unbind("a")
	require.NoError(t, err)
	values, err = view.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{2}, values)

	view.Close()
	assert.True(t, view.Closed())
	ctx.MustBind("c").To(3).Tag("foo")
	_, err = parent.Unbind("b")
	require.NoError(t, err)

	values, err = view.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{2}, values)
	assert.Equal(t, []string{"b"}, keys(view.Bindings()))
	view.Close()
}

func TestViewCachesValues(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	calls := 0
	ctx.MustBind("lazy").ToDynamicValue(di.Factory(func() (any, error) {
		calls++
		return calls, nil
	})).Tag("lazy")
	view := ctx.CreateView(di.ByTag("lazy"), nil)
	defer view.Close()

	v1, err := view.SingleValue(context.Background())
	require.NoError(t, err)
	v2, err := view.SingleValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 1, v2)

	view.Refresh()
	v3, err := view.SingleValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v3)
}

func TestViewSingleValue(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	view := ctx.CreateView(di.ByTag("db"), nil)
	defer view.Close()

	_, err := view.SingleValue(context.Background())
	assert.True(t, errors.Is(err, di.ErrKeyNotBound))

	ctx.MustBind("db.main").To("main").Tag("db")
	v, err := view.SingleValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", v)

	ctx.MustBind("db.replica").To("replica").Tag("db")
	_, err = view.SingleValue(context.Background())
	assert.True(t, errors.Is(err, di.ErrAmbiguousBinding))
}

func TestViewAsyncValues(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	ctx.MustBind("fast").To("fast").Tag("svc")
	ctx.MustBind("slow").ToDynamicValue(di.AsyncFactory(func(context.Context) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "slow", nil
	})).Tag("svc")
	view := ctx.CreateView(di.ByTag("svc"), nil)
	defer view.Close()

	r := view.Resolve()
	assert.True(t, r.IsPending())
	values, err := view.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"fast", "slow"}, values)
}

func TestViewRetriesFailedAsyncValues(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	var calls atomic.Int32
	ctx.MustBind("flaky").ToDynamicValue(di.AsyncFactory(func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})).Tag("svc")
	view := ctx.CreateView(di.ByTag("svc"), nil)
	defer view.Close()

	_, err := view.Values(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient")

	values, err := view.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"ok"}, values)

	// 成功的结果被缓存
	values, err = view.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"ok"}, values)
	assert.EqualValues(t, 2, calls.Load())
}
