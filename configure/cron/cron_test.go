package cron_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocrud/inject/configure/cron"
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportJob struct {
	mu   sync.Mutex
	runs []string
}

func (j *reportJob) Run(ctx context.Context, jobName string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, jobName)
	return nil
}

func (j *reportJob) names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.runs...)
}

func init() {
	di.Describe[*reportJob]("reportJob").
		Method("Run", (*reportJob).Run, nil, di.Inject(cron.JobNameKey))
}

// runApp 在后台运行应用，返回停止函数
func runApp(t *testing.T, app core.Application) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunAsync(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("application did not stop")
		}
	}
}

func TestMethodJob(t *testing.T) {
	var simpleRuns atomic.Int32
	app, err := core.NewApplicationBuilder().
		DisableSignalHandling().
		Configure(cron.Configure(func(b *cron.Builder) {
			b.AddJob("@hourly", "simple", func(ctx context.Context) error {
				simpleRuns.Add(1)
				return nil
			})
			b.AddMethodJob("0 3 * * *", "jobs.report", di.TypeOf[*reportJob](), "Run")
		})).
		Build()
	require.NoError(t, err)

	svc, err := cron.ServiceKey.GetSync(app.Context())
	require.NoError(t, err)

	stop := runApp(t, app)
	require.Eventually(t, func() bool {
		return !svc.Next("jobs.report").IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"jobs.report", "simple"}, svc.Jobs())
	assert.Equal(t, 3, svc.Next("jobs.report").Hour())

	require.NoError(t, svc.Trigger(context.Background(), "jobs.report"))
	require.NoError(t, svc.Trigger(context.Background(), "simple"))
	assert.EqualError(t, svc.Trigger(context.Background(), "unknown"), "cron job 'unknown' not found")

	job, err := di.GetSync[*reportJob](app.Context(), "jobs.report")
	require.NoError(t, err)
	assert.Equal(t, []string{"jobs.report"}, job.names())
	assert.Equal(t, int32(1), simpleRuns.Load())

	// 任务上下文中的绑定不会留在根上下文
	assert.False(t, app.Context().IsBound(cron.JobNameKey))
	stop()
}

func TestScheduledExecution(t *testing.T) {
	var runs atomic.Int32
	app, err := core.NewApplicationBuilder().
		DisableSignalHandling().
		Configure(cron.Configure(func(b *cron.Builder) {
			b.WithSeconds().AddJob("* * * * * *", "tick", func(ctx context.Context) error {
				runs.Add(1)
				return errors.New("ignored")
			})
		})).
		Build()
	require.NoError(t, err)

	stop := runApp(t, app)
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	stop()
}

func TestTaggedBindingRequiresMethod(t *testing.T) {
	app, err := core.NewApplicationBuilder().
		DisableSignalHandling().
		Configure(cron.Configure(nil)).
		ConfigureServices(func(s *core.ServiceCollection) {
			s.Bind("jobs.broken").To(&reportJob{}).Tag(cron.JobTag).TagValue(cron.ScheduleTag, "@daily")
		}).
		Build()
	require.NoError(t, err)

	err = app.RunAsync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cron job binding "jobs.broken" requires`)
}

func TestJobHelper(t *testing.T) {
	ctx := di.NewContext(nil, "app")
	b := cron.Job(ctx.MustBind("jobs.cleanup").To(&reportJob{}), "@every 1m", "Run")

	found := ctx.FindByTag(cron.JobTag)
	require.Len(t, found, 1)
	assert.Same(t, b, found[0])
	spec, _ := b.LookupTag(cron.ScheduleTag)
	method, _ := b.LookupTag(cron.MethodTag)
	assert.Equal(t, "@every 1m", spec)
	assert.Equal(t, "Run", method)
}

func TestBuilderErrors(t *testing.T) {
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name      string
		configure func(*cron.Builder)
		want      string
	}{
		{"invalid spec", func(b *cron.Builder) { b.AddJob("not a spec", "bad", noop) }, "invalid spec for cron job 'bad'"},
		{"seconds required", func(b *cron.Builder) { b.AddJob("* * * * * *", "six", noop) }, "invalid spec for cron job 'six'"},
		{"location", func(b *cron.Builder) { b.WithLocation("Mars/Olympus") }, "invalid cron location 'Mars/Olympus'"},
		{"duplicate", func(b *cron.Builder) { b.AddJob("@daily", "dup", noop).AddJob("@daily", "dup", noop) }, "cron job 'dup' already configured"},
		{"nil handler", func(b *cron.Builder) { b.AddJob("@daily", "empty", nil) }, "cron job 'empty' has no handler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.NewApplicationBuilder().Configure(cron.Configure(tt.configure)).Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
