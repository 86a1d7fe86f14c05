package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValueStore(t *testing.T) {
	store := NewValueStore()
	store.Store(map[string]any{"key": "value"})
	assert.Equal(t, "value", store.Load()["key"])

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Load()
		}()
	}
	wg.Wait()
}

func TestPathCache(t *testing.T) {
	cache := &PathCache{}
	assert.Equal(t, []string{"a", "b", "c"}, cache.GetPathSegments("a:b.c"))
	assert.Equal(t, []string{"a", "b", "c"}, cache.GetPathSegments("a:b.c"))
}

func TestBuilderMergesSources(t *testing.T) {
	jsonPath := writeFile(t, "app.json", `{"servers":{"rest":{"port":3000,"host":"0.0.0.0"}},"name":"json"}`)
	yamlPath := writeFile(t, "app.yaml", "servers:\n  rest:\n    port: 4000\n  grpc:\n    port: 5000\n")
	envPath := writeFile(t, ".env", "APP_SERVERS_REST_HOST=127.0.0.1\nAPP_DEBUG=true\nOTHER=1\n")
	t.Setenv("TESTAPP_NAME", "from-env")

	cfg, err := NewConfigurationBuilder().
		AddJsonFile(jsonPath).
		AddYamlFile(yamlPath).
		AddYamlFile(filepath.Join(t.TempDir(), "missing.yaml"), true).
		AddDotEnv(envPath, "APP_").
		AddEnvironmentVariables("TESTAPP_").
		Build()
	require.NoError(t, err)

	port, err := cfg.GetInt("servers:rest:port")
	require.NoError(t, err)
	assert.Equal(t, 4000, port)
	assert.Equal(t, "127.0.0.1", cfg.Get("servers.rest.host"))
	assert.Equal(t, 5000, cfg.Value("servers.grpc.port"))
	assert.Equal(t, "from-env", cfg.Get("name"))
	debug, err := cfg.GetBool("debug")
	require.NoError(t, err)
	assert.True(t, debug)
	assert.Nil(t, cfg.Value("other"))
	assert.Equal(t, "fallback", cfg.GetWithDefault("servers.ws.host", "fallback"))

	_, err = cfg.GetInt("servers.ws.port")
	assert.Error(t, err)

	section := cfg.GetSection("servers.rest")
	assert.Equal(t, "127.0.0.1", section.Get("host"))
}

func TestBuilderRequiredFileMissing(t *testing.T) {
	_, err := NewConfigurationBuilder().AddJsonFile(filepath.Join(t.TempDir(), "nope.json")).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JsonFile(")
}

type restOptions struct {
	Host string `json:"host" validate:"required"`
	Port int    `json:"port" validate:"min=1,max=65535"`
}

func TestBindValidates(t *testing.T) {
	cfg := NewConfiguration(map[string]any{
		"good": map[string]any{"host": "localhost", "port": 8080},
		"bad":  map[string]any{"port": 0},
	})

	good, err := Load[restOptions](cfg, "good")
	require.NoError(t, err)
	assert.Equal(t, restOptions{Host: "localhost", Port: 8080}, good)

	_, err = Load[restOptions](cfg, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restOptions.host: failed required")
	assert.Contains(t, err.Error(), "restOptions.port: failed min=1")

	_, err = Load[restOptions](cfg, "missing")
	assert.EqualError(t, err, "key missing not found")
}

func TestReloadAndOptionsCache(t *testing.T) {
	data := map[string]any{"rest": map[string]any{"host": "a", "port": 1}}
	source := &InMemorySource{Data: data}
	cfg, err := NewConfigurationBuilder().Add(source).Build()
	require.NoError(t, err)

	cache := NewOptionsCache[restOptions](cfg, "rest")
	require.NoError(t, cache.Err())
	monitor := NewOptionMonitor(cache)
	static := NewOption(cache.Get())
	assert.Equal(t, "a", monitor.Value().Host)

	source.Data = map[string]any{"rest": map[string]any{"host": "b", "port": 2}}
	require.NoError(t, cfg.Reload())
	assert.Equal(t, "b", monitor.Value().Host)
	assert.Equal(t, "a", static.Value().Host)

	snapshot := NewOptionSnapshot(cache.Snapshot())
	source.Data = map[string]any{"rest": map[string]any{"port": 3}}
	require.NoError(t, cfg.Reload())
	assert.Error(t, cache.Err())
	// 校验失败保留上一次的值
	assert.Equal(t, "b", monitor.Value().Host)
	assert.Equal(t, 2, snapshot.Value().Port)
}

type fakeWatchSource struct {
	InMemorySource
	changes chan struct{}
}

func (s *fakeWatchSource) Watch(ctx context.Context, onChange func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.changes:
			onChange()
		}
	}
}

func TestWatchReloads(t *testing.T) {
	source := &fakeWatchSource{
		InMemorySource: InMemorySource{Data: map[string]any{"v": 1}},
		changes:        make(chan struct{}),
	}
	cfg, err := NewConfigurationBuilder().Add(source).Build()
	require.NoError(t, err)

	var reloads atomic.Int32
	reloaded := make(chan struct{}, 1)
	cfg.OnReload(func() {
		reloads.Add(1)
		reloaded <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cfg.Watch(ctx, func(err error) { t.Errorf("unexpected watch error: %v", err) })
		close(done)
	}()

	source.Data = map[string]any{"v": 2}
	source.changes <- struct{}{}
	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("configuration was not reloaded")
	}
	assert.Equal(t, 2, cfg.Value("v"))

	cancel()
	<-done
	assert.Equal(t, int32(1), reloads.Load())
}

func TestEtcdKeyMapping(t *testing.T) {
	assert.Equal(t, "servers:rest:port", etcdPath("/app/servers/rest/port", "/app"))
	assert.Equal(t, "name", etcdPath("/name", ""))

	assert.Equal(t, map[string]any{"port": float64(80)}, decodeEtcdValue([]byte(`{"port":80}`)))
	assert.Equal(t, map[string]any{"port": 80}, decodeEtcdValue([]byte("port: 80")))
	assert.Equal(t, "plain text", decodeEtcdValue([]byte("plain text")))
}

func TestResolver(t *testing.T) {
	cfg := NewConfiguration(map[string]any{
		"servers": map[string]any{"rest": map[string]any{"port": 3000}},
	})
	ctx := di.NewContext(nil, "app")
	ctx.MustBind(di.ConfigurationResolverKey).To(NewResolver(cfg))

	port, err := ctx.GetConfigSync("servers.rest", "port")
	require.NoError(t, err)
	assert.Equal(t, 3000, port)

	missing, err := ctx.GetConfigSync("servers.grpc", "port")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = ctx.GetConfigSync("servers.grpc", "port", di.Required())
	assert.True(t, errors.Is(err, di.ErrKeyNotBound))

	// 显式的配置绑定优先
	ctx.MustConfigure("servers.rest").To(map[string]any{"port": 9000})
	port, err = ctx.GetConfigSync("servers.rest", "port")
	require.NoError(t, err)
	assert.Equal(t, 9000, port)
}

func BenchmarkConfigGet(b *testing.B) {
	cfg, _ := NewConfigurationBuilder().AddInMemory(map[string]any{
		"server": map[string]any{
			"host": "localhost",
			"port": 8080,
		},
	}).Build()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cfg.Get("server:host")
	}
}
