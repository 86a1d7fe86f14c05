package etcd_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocrud/inject/configure/etcd"
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type registryUser struct {
	Master *clientv3.Client `inject:"etcd.clients.master"`
	Slave  *clientv3.Client `inject:"etcd.clients.slave,optional"`
}

func TestEtcdConfiguration(t *testing.T) {
	app, err := core.NewApplicationBuilder().
		DisableSignalHandling().
		Configure(etcd.Configure(func(b *etcd.Builder) {
			b.AddClient("master", func(o *etcd.EtcdClientOptions) {
				o.Endpoints = []string{"localhost:2379"}
			})
			b.AddClient("default", nil)
		})).
		ConfigureServices(func(s *core.ServiceCollection) {
			s.Bind("registry").ToClass(di.TypeOf[*registryUser]())
		}).
		Build()
	require.NoError(t, err)

	svc, err := di.GetSync[*registryUser](app.Context(), "registry")
	require.NoError(t, err)
	require.NotNil(t, svc.Master)
	assert.Nil(t, svc.Slave)

	master, err := etcd.ClientKey("master").GetSync(app.Context())
	require.NoError(t, err)
	assert.Same(t, svc.Master, master)
	assert.Equal(t, []string{"localhost:2379"}, master.Endpoints())

	def, err := di.GetSync[*clientv3.Client](app.Context(), etcd.DefaultClientKey)
	require.NoError(t, err)
	assert.NotSame(t, master, def)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.RunAsync(ctx))
}

func TestEtcdBuilder_Errors(t *testing.T) {
	_, err := core.NewApplicationBuilder().
		Configure(etcd.Configure(func(b *etcd.Builder) {
			b.AddClient("invalid", func(o *etcd.EtcdClientOptions) { o.Endpoints = nil })
			b.AddClient("duplicate", nil)
			b.AddClient("duplicate", nil)
			b.BindKey("flags", "/flags", "missing")
		})).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd endpoints are required")
	assert.Contains(t, err.Error(), "etcd client 'duplicate' already configured")
	assert.Contains(t, err.Error(), "refers to unknown client 'missing'")
}

func TestBindKeyUnreachable(t *testing.T) {
	app, err := core.NewApplicationBuilder().
		Configure(etcd.Configure(func(b *etcd.Builder) {
			b.AddClient("default", func(o *etcd.EtcdClientOptions) {
				o.Endpoints = []string{"127.0.0.1:1"}
				o.RequestTimeout = 200 * time.Millisecond
			})
			b.BindKey("features.flags", "/app/flags", "default")
		})).
		Build()
	require.NoError(t, err)

	r := app.Context().GetValueOrPromise("features.flags")
	assert.True(t, r.IsPending())
	_, err = r.Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd get /app/flags")

	_, err = app.Context().GetSync("features.flags")
	assert.Equal(t, di.KindSyncResolution, di.KindOf(err))
}

// 需要真实的 etcd：ETCD_ENDPOINTS=localhost:2379 go test ./configure/etcd
func TestBindKeyIntegration(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}

	app, err := core.NewApplicationBuilder().
		Configure(etcd.Configure(func(b *etcd.Builder) {
			b.AddClient("default", func(o *etcd.EtcdClientOptions) {
				o.Endpoints = strings.Split(endpoints, ",")
			})
			b.BindKey("features.flags", "/inject-test/flags", "default")
		})).
		Build()
	require.NoError(t, err)

	client, err := etcd.ClientKey("default").GetSync(app.Context())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Put(ctx, "/inject-test/flags", "beta")
	require.NoError(t, err)

	v, err := app.Context().Get(ctx, "features.flags")
	require.NoError(t, err)
	assert.Equal(t, "beta", v)
}
