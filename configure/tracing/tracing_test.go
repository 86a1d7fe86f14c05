package tracing_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/gocrud/inject/configure/tracing"
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type shutdownRecorder struct {
	*tracetest.SpanRecorder
	shutdown atomic.Bool
}

func (r *shutdownRecorder) Shutdown(ctx context.Context) error {
	r.shutdown.Store(true)
	return r.SpanRecorder.Shutdown(ctx)
}

type inventory struct{}

func (inventory) Reserve(ctx context.Context, sku string) (string, error) {
	if sku == "" {
		return "", errors.New("sku is required")
	}
	return "reserved " + sku, nil
}

type checkout struct {
	Ctx *di.Context `inject:"context"`
}

func (c *checkout) Submit(ctx context.Context, sku string) (any, error) {
	return di.InvokeMethod(inventory{}, "Reserve", c.Ctx, []any{ctx, sku}).Await(ctx)
}

func newApp(t *testing.T) (core.Application, *shutdownRecorder) {
	t.Helper()
	rec := &shutdownRecorder{SpanRecorder: tracetest.NewSpanRecorder()}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	app, err := core.NewApplicationBuilder().
		DisableSignalHandling().
		Configure(tracing.Configure(func(o *tracing.Options) { o.Provider = tp })).
		ConfigureServices(func(s *core.ServiceCollection) {
			s.Bind("checkout").ToClass(di.TypeOf[*checkout]())
		}).
		Build()
	require.NoError(t, err)
	return app, rec
}

func TestNestedSpans(t *testing.T) {
	app, rec := newApp(t)
	svc, err := di.GetSync[*checkout](app.Context(), "checkout")
	require.NoError(t, err)

	v, err := di.InvokeMethod(svc, "Submit", app.Context(), []any{context.Background(), "A-1"}).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reserved A-1", v)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	inner, outer := spans[0], spans[1]
	assert.Equal(t, "inventory.Reserve", inner.Name())
	assert.Equal(t, "checkout.Submit", outer.Name())
	assert.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	assert.Equal(t, outer.SpanContext().TraceID(), inner.SpanContext().TraceID())
	assert.Equal(t, codes.Ok, outer.Status().Code)

	attrs := map[string]string{}
	for _, kv := range outer.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "Submit", attrs[tracing.AttrMethod])
	assert.Equal(t, "application", attrs[tracing.AttrContext])
}

func TestFailedInvocationRecordsError(t *testing.T) {
	app, rec := newApp(t)

	_, err := di.InvokeMethod(inventory{}, "Reserve", app.Context(), []any{context.Background(), ""}).Value()
	require.EqualError(t, err, "sku is required")

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "sku is required", spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestSpanFromContext(t *testing.T) {
	app, _ := newApp(t)
	assert.False(t, tracing.SpanFromContext(app.Context()).SpanContext().IsValid())

	var seen bool
	_, err := di.RegisterInterceptor(app.Context(), func(ic *di.InvocationContext, next di.Next) di.Result {
		seen = tracing.SpanFromContext(ic.Context).SpanContext().IsValid()
		return next()
	}, di.InterceptorOptions{Global: true})
	require.NoError(t, err)

	_, err = di.InvokeMethod(inventory{}, "Reserve", app.Context(), []any{context.Background(), "B-2"}).Value()
	require.NoError(t, err)
	assert.True(t, seen)

	provider, err := tracing.TracerProviderKey.GetSync(app.Context())
	require.NoError(t, err)
	assert.NotNil(t, provider)
}

func TestProviderShutdownOnStop(t *testing.T) {
	app, rec := newApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.RunAsync(ctx))
	assert.True(t, rec.shutdown.Load())
}
