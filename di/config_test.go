package di_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type restServer struct {
	Port int            `inject:"config=port"`
	Host string         `inject:"config=host"`
	All  map[string]any `inject:"config="`
}

func TestConfigure(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	b := ctx.MustConfigure("servers.rest").To(map[string]any{"port": 3000, "host": "0.0.0.0"})
	assert.Equal(t, "servers.rest:$config", b.Key())
	owner, ok := b.LookupTag(di.ConfigurationForTag)
	assert.True(t, ok)
	assert.Equal(t, "servers.rest", owner)

	port, err := ctx.GetConfigSync("servers.rest", "port")
	require.NoError(t, err)
	assert.Equal(t, 3000, port)

	all, err := ctx.GetConfig(context.Background(), "servers.rest", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"port": 3000, "host": "0.0.0.0"}, all)

	// 配置默认可选
	missing, err := ctx.GetConfigSync("servers.grpc", "port")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = ctx.GetConfigSync("servers.grpc", "", di.Required())
	assert.True(t, errors.Is(err, di.ErrKeyNotBound))
}

type strictServer struct {
	Port int
}

func TestInjectConfigRequired(t *testing.T) {
	di.Describe[*strictServer]("strictServer").
		Constructor(func(port int) *strictServer { return &strictServer{Port: port} },
			di.InjectConfig("port", di.Required()))

	ctx := di.NewContext(nil, "app")
	ctx.MustBind("servers.strict").ToClass(di.TypeOf[*strictServer]())

	_, err := ctx.GetSync("servers.strict")
	require.Error(t, err)
	assert.True(t, errors.Is(err, di.ErrKeyNotBound))

	ctx.MustConfigure("servers.strict").To(map[string]any{"port": 7})
	srv, err := di.GetSync[*strictServer](ctx, "servers.strict")
	require.NoError(t, err)
	assert.Equal(t, 7, srv.Port)
}

func TestInjectConfig(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	ctx.MustConfigure("servers.rest").To(map[string]any{"port": 8080, "host": "localhost"})
	ctx.MustBind("servers.rest").ToClass(di.TypeOf[*restServer]())

	srv, err := di.GetSync[*restServer](ctx, "servers.rest")
	require.NoError(t, err)
	assert.Equal(t, 8080, srv.Port)
	assert.Equal(t, "localhost", srv.Host)
	assert.Equal(t, map[string]any{"port": 8080, "host": "localhost"}, srv.All)

	// 子上下文中的配置覆盖父上下文
	child := ctx.NewChild("child")
	child.MustConfigure("servers.rest").To(map[string]any{"port": 9090})
	srv, err = di.GetSync[*restServer](child, "servers.rest")
	require.NoError(t, err)
	assert.Equal(t, 9090, srv.Port)
	assert.Empty(t, srv.Host)
}

type fixedResolver map[string]any

func (r fixedResolver) ResolveConfig(c *di.Context, key, path string, o di.ResolutionOptions) di.Result {
	v, ok := r[key+"/"+path]
	if !ok {
		return di.DefaultConfigurationResolver{}.ResolveConfig(c, key, path, o)
	}
	return di.Ready(v)
}

func TestCustomConfigurationResolver(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	ctx.MustBind(di.ConfigurationResolverKey).To(fixedResolver{"servers.rest/port": 443})
	ctx.MustConfigure("servers.rest").To(map[string]any{"host": "example.com"})

	port, err := ctx.GetConfigSync("servers.rest", "port")
	require.NoError(t, err)
	assert.Equal(t, 443, port)

	host, err := ctx.GetConfigSync("servers.rest", "host")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
}

func TestAsyncConfig(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	ctx.MustConfigure("jobs").ToDynamicValue(di.AsyncFactory(func(context.Context) (any, error) {
		return map[string]any{"interval": "5s"}, nil
	}))

	_, err := ctx.GetConfigSync("jobs", "interval")
	assert.True(t, errors.Is(err, di.ErrSyncResolution))

	v, err := ctx.GetConfig(context.Background(), "jobs", "interval")
	require.NoError(t, err)
	assert.Equal(t, "5s", v)
}
