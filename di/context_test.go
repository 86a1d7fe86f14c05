package di_test

import (
	"errors"
	"regexp"
	"testing"

	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(bindings []*di.Binding) []string {
	out := make([]string, len(bindings))
	for i, b := range bindings {
		out[i] = b.Key()
	}
	return out
}

func TestBindAndGetSync(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	ctx.MustBind("foo").To("bar")

	v, err := ctx.GetSync("foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", v)
}

func TestGetUnboundKey(t *testing.T) {
	ctx := di.NewContext(nil, "app")

	_, err := ctx.GetSync("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, di.ErrKeyNotBound))
	assert.Contains(t, err.Error(), "missing")

	v, err := ctx.GetSync("missing", di.Optional())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLockedBinding(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	b := ctx.MustBind("k").To(1).Lock()

	_, err := ctx.Bind("k")
	require.Error(t, err)
	assert.Equal(t, di.KindRebindLockedKey, di.KindOf(err))

	_, err = ctx.Unbind("k")
	assert.Equal(t, di.KindUnbindLockedKey, di.KindOf(err))

	b.Unlock()
	_, err = ctx.Bind("k")
	require.NoError(t, err)
}

func TestInvalidKeySyntax(t *testing.T) {
	ctx := di.NewContext(nil, "app")

	_, err := ctx.Bind("a#b")
	assert.True(t, errors.Is(err, di.ErrInvalidKeySyntax))

	_, err = ctx.Bind("")
	assert.True(t, errors.Is(err, di.ErrInvalidKeySyntax))

	_, err = ctx.GetSync("#path")
	assert.True(t, errors.Is(err, di.ErrInvalidKeySyntax))
}

func TestShadowing(t *testing.T) {
	parent := di.NewContext(nil, "parent")
	child := parent.NewChild("child")

	parent.MustBind("k").To("parent").Tag("t")
	child.MustBind("k").To("child").Tag("t")

	v, err := child.GetSync("k")
	require.NoError(t, err)
	assert.Equal(t, "child", v)

	found := child.FindByTag("t")
	require.Len(t, found, 1)
	assert.Same(t, child, child.GetOwnerContext("k"))

	removed, err := child.Unbind("k")
	require.NoError(t, err)
	assert.True(t, removed)

	v, err = child.GetSync("k")
	require.NoError(t, err)
	assert.Equal(t, "parent", v)
	assert.Same(t, parent, child.GetOwnerContext("k"))

	// Unbind 只作用于自身注册表
	removed, err = child.Unbind("k")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, child.IsBound("k"))
	assert.False(t, child.Contains("k"))
}

func TestFindOrder(t *testing.T) {
	root := di.NewContext(nil, "root")
	child := root.NewChild("child")

	root.MustBind("servers.rest").To(1)
	root.MustBind("servers.grpc").To(2)
	child.MustBind("servers.ws").To(3)
	child.MustBind("servers.rest").To(4)
	child.MustBind("servers.rest.port").To(5)

	tests := []struct {
		name   string
		filter di.BindingFilter
		want   []string
	}{
		{"exact", di.ByKey("servers.grpc"), []string{"servers.grpc"}},
		{"glob respects separator", di.ByKey("servers.*"), []string{"servers.ws", "servers.rest", "servers.grpc"}},
		{"glob across segments", di.ByKey("servers.*.*"), []string{"servers.rest.port"}},
		{"question mark", di.ByKey("servers.w?"), []string{"servers.ws"}},
		{"regexp", di.ByKeyRegexp(regexp.MustCompile(`port$`)), []string{"servers.rest.port"}},
		{"func", di.FilterFunc(func(b *di.Binding) bool { return b.Key() == "servers.ws" }), []string{"servers.ws"}},
		{"all", nil, []string{"servers.ws", "servers.rest", "servers.rest.port", "servers.grpc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keys(child.Find(tt.filter)))
		})
	}

	// 被子上下文遮蔽的绑定来自子上下文
	rest := child.Find(di.ByKey("servers.rest"))
	require.Len(t, rest, 1)
	v, _ := rest[0].GetValue(child).Value()
	assert.Equal(t, 4, v)
}

func TestFindByTag(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	ctx.MustBind("controllers.user").Tag("controller").TagValue("name", "user")
	ctx.MustBind("controllers.order").Tag("controller").TagValue("name", "order")
	ctx.MustBind("repositories.user").Tag("repository").TagValue("name", "user")

	assert.Equal(t, []string{"controllers.user", "controllers.order"}, keys(ctx.FindByTag("controller")))
	assert.Equal(t, []string{"controllers.user", "repositories.user"}, keys(ctx.FindByTagMap(map[string]string{"name": "user"})))
	assert.Equal(t, []string{"controllers.user", "controllers.order"},
		keys(ctx.FindByTagMap(map[string]string{"controller": di.AnyTagValue, "name": di.AnyTagValue})))
	assert.Equal(t, []string{"controllers.user", "controllers.order", "repositories.user"},
		keys(ctx.Find(di.ByTagRegexp(regexp.MustCompile(`^(controller|repository)$`)))))
	assert.Equal(t, []string{"repositories.user"}, keys(ctx.FindByTag("repo*")))
	assert.Equal(t, []string{"controllers.order"},
		keys(ctx.Find(di.And(di.ByTag("controller"), di.ByKey("*.order")))))

	// 标签在注册之后修改，索引同步更新
	b, err := ctx.GetBinding("repositories.user")
	require.NoError(t, err)
	b.Tag("controller")
	assert.Equal(t, []string{"controllers.user", "controllers.order", "repositories.user"}, keys(ctx.FindByTag("controller")))

	_, err = ctx.Unbind("controllers.user")
	require.NoError(t, err)
	assert.Equal(t, []string{"controllers.order", "repositories.user"}, keys(ctx.FindByTag("controller")))
}

func TestCompareByTag(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	ctx.MustBind("b1").TagValue("phase", "late")
	ctx.MustBind("b2").TagValue("phase", "early")
	ctx.MustBind("b3")
	ctx.MustBind("b4").TagValue("phase", "unknown")
	ctx.MustBind("b5").TagValue("phase", "early")

	bindings := ctx.Find(nil)
	view := ctx.CreateView(nil, di.CompareByTag("phase", []string{"early", "late"}))
	defer view.Close()

	assert.Equal(t, []string{"b1", "b2", "b3", "b4", "b5"}, keys(bindings))
	assert.Equal(t, []string{"b3", "b4", "b2", "b5", "b1"}, keys(view.Bindings()))
}

func TestFindOrCreateBinding(t *testing.T) {
	parent := di.NewContext(nil, "parent")
	child := parent.NewChild("child")
	pb := parent.MustBind("k").To(1)

	b, err := child.FindOrCreateBinding("k")
	require.NoError(t, err)
	assert.NotSame(t, pb, b)
	assert.True(t, child.Contains("k"))

	again, err := child.FindOrCreateBinding("k")
	require.NoError(t, err)
	assert.Same(t, b, again)
}

func TestAddBindingOwnedElsewhere(t *testing.T) {
	a := di.NewContext(nil, "a")
	b := di.NewContext(nil, "b")
	binding := a.MustBind("k").To(1)

	err := b.Add(binding)
	require.Error(t, err)
	assert.Equal(t, di.KindInvalidValue, di.KindOf(err))
}

func TestContextName(t *testing.T) {
	named := di.NewContext(nil, "app")
	assert.Equal(t, "app", named.Name())

	anon := di.NewContext(named, "")
	assert.NotEmpty(t, anon.Name())
	assert.Same(t, named, anon.Parent())
	assert.NotEqual(t, anon.Name(), di.NewContext(named, "").Name())
}

func TestInspect(t *testing.T) {
	root := di.NewContext(nil, "root", di.WithScope(di.ScopeApplication))
	child := root.NewChild("child")
	root.MustBind("a").To(1).Tag("x").InScope(di.ScopeSingleton).Lock()
	child.MustBind("b").ToAlias("a")

	info := child.Inspect()
	assert.Equal(t, "child", info["name"])
	bindings := info["bindings"].(map[string]any)
	b := bindings["b"].(map[string]any)
	assert.Equal(t, "Alias", b["type"])
	assert.Equal(t, "a", b["alias"])

	parent := info["parent"].(map[string]any)
	assert.Equal(t, "Application", parent["scope"])
	a := parent["bindings"].(map[string]any)["a"].(map[string]any)
	assert.Equal(t, "Singleton", a["scope"])
	assert.Equal(t, true, a["isLocked"])
	assert.Equal(t, map[string]string{"x": "x"}, a["tags"])
}

func TestReaddedBindingDropsScopedCache(t *testing.T) {
	root := di.NewContext(nil, "root")
	req := root.NewChild("request", di.WithScope(di.ScopeRequest))
	n := 0
	b := root.MustBind("seq").ToDynamicValue(di.Factory(func() (any, error) {
		n++
		return n, nil
	})).InScope(di.ScopeRequest)

	assert.Equal(t, 1, di.MustGet[int](req, "seq"))
	assert.Equal(t, 1, di.MustGet[int](req, "seq"))

	_, err := root.Unbind("seq")
	require.NoError(t, err)
	require.NoError(t, root.Add(b))
	assert.Equal(t, 2, di.MustGet[int](req, "seq"))

	// 同一个绑定重新注册也会失效
	require.NoError(t, root.Add(b))
	assert.Equal(t, 3, di.MustGet[int](req, "seq"))
}
