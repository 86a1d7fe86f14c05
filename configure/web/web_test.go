package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/inject/configure/web"
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// greetingController 控制器，属性注入
type greetingController struct {
	Text string `inject:"greeting.text"`
}

func (c *greetingController) RegisterRoutes(router gin.IRouter) {
	router.GET("/greet", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, c.Text)
	})
}

type requestState struct {
	ID int64
}

type echoHandler struct {
	Request *gin.Context  `inject:"web.request"`
	First   *requestState `inject:"request.state"`
	Second  *requestState `inject:"request.state"`
}

func (h *echoHandler) Echo(c *gin.Context) (map[string]any, error) {
	name := c.Param("name")
	if name == "boom" {
		return nil, web.NewHTTPError(http.StatusBadRequest, errors.New("bad name"))
	}
	return map[string]any{
		"name":        name,
		"sameRequest": h.Request == c,
		"sameState":   h.First == h.Second,
		"state":       h.First.ID,
	}, nil
}

type notController struct{}

func newApp(t *testing.T, configure func(*web.Builder)) core.Application {
	t.Helper()
	var seq atomic.Int64
	app, err := core.NewApplicationBuilder().
		DisableSignalHandling().
		Configure(web.Configure(configure)).
		ConfigureServices(func(s *core.ServiceCollection) {
			s.Bind("greeting.text").To("hello")
			s.Bind("request.state").ToDynamicValue(di.Factory(func() (any, error) {
				return &requestState{ID: seq.Add(1)}, nil
			})).InScope(di.ScopeRequest)
			s.Bind("handlers.echo").ToClass(di.TypeOf[*echoHandler]())
		}).
		Build()
	require.NoError(t, err)
	return app
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(w, req)
	return w
}

func TestRoutesAndRequestScope(t *testing.T) {
	app := newApp(t, func(b *web.Builder) {
		b.AddController("controllers.greeting", di.TypeOf[*greetingController]())
		b.Get("/echo/:name", web.Invoke("handlers.echo", "Echo"))
	})

	host, err := web.HostKey.GetSync(app.Context())
	require.NoError(t, err)
	require.NoError(t, host.MapControllers(context.Background()))

	w := get(t, host, "/greet")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())

	var first, second map[string]any
	w = get(t, host, "/echo/alice")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, "alice", first["name"])
	assert.Equal(t, true, first["sameRequest"])
	assert.Equal(t, true, first["sameState"])

	w = get(t, host, "/echo/bob")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.NotEqual(t, first["state"], second["state"])

	w = get(t, host, "/echo/boom")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"bad name"}`, w.Body.String())

	// 请求上下文不会泄漏到根上下文
	assert.False(t, app.Context().IsBound(web.RequestKey.Key()))
}

func TestInvokeUnknownBinding(t *testing.T) {
	app := newApp(t, func(b *web.Builder) {
		b.Get("/missing", web.Invoke("handlers.missing", "Handle"))
	})
	host, err := web.HostKey.GetSync(app.Context())
	require.NoError(t, err)

	w := get(t, host, "/missing")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "handlers.missing")
}

func TestInterceptorsApplyToHandlers(t *testing.T) {
	app := newApp(t, func(b *web.Builder) {
		b.Get("/echo/:name", web.Invoke("handlers.echo", "Echo"))
	})
	_, err := di.RegisterInterceptor(app.Context(), func(ic *di.InvocationContext, next di.Next) di.Result {
		c := ic.Args[0].(*gin.Context)
		c.Header("X-Target", ic.TargetName())
		return next()
	}, di.InterceptorOptions{Global: true})
	require.NoError(t, err)

	host, err := web.HostKey.GetSync(app.Context())
	require.NoError(t, err)
	w := get(t, host, "/echo/carol")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("X-Target"), "Echo")
}

func TestHostServesHTTP(t *testing.T) {
	app := newApp(t, func(b *web.Builder) {
		b.UseAddress("127.0.0.1:0").
			AddController("controllers.greeting", di.TypeOf[*greetingController]())
	})
	host, err := web.HostKey.GetSync(app.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunAsync(ctx) }()

	require.Eventually(t, func() bool { return host.Address() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + host.Address() + "/greet")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hello", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
}

func TestControllerMustImplementRegisterRoutes(t *testing.T) {
	app := newApp(t, func(b *web.Builder) {
		b.UseAddress("127.0.0.1:0").AddController("controllers.bad", di.TypeOf[*notController]())
	})
	err := app.RunAsync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controllers.bad does not implement RegisterRoutes")
}

func TestDuplicateController(t *testing.T) {
	_, err := core.NewApplicationBuilder().
		Configure(web.Configure(func(b *web.Builder) {
			b.AddController("controllers.greeting", di.TypeOf[*greetingController]())
			b.AddController("controllers.greeting", di.TypeOf[*greetingController]())
		})).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controller 'controllers.greeting' already registered")
}
