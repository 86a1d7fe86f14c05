package di

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Future 表示一个尚未就绪的值，由 goroutine 在后台完成
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(v any, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Go 在新的 goroutine 中执行 fn，返回值中嵌套的 Result/Future 会被展开
func Go(fn func() (any, error)) *Future {
	f := newFuture()
	go func() {
		var (
			v   any
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, fmt.Errorf("di: panic during async resolution: %v", r)
			}
			f.complete(v, err)
		}()
		v, err = fn()
		if err == nil {
			v, err = settle(context.Background(), v)
		}
	}()
	return f
}

// Done 在 Future 完成后关闭
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await 等待结果，ctx 取消时提前返回 ctx.Err()
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func settle(ctx context.Context, v any) (any, error) {
	switch t := v.(type) {
	case *Future:
		return t.Await(ctx)
	case Result:
		return t.Await(ctx)
	}
	return v, nil
}

func isAwaitable(v any) bool {
	switch v.(type) {
	case *Future, Result:
		return true
	}
	return false
}

// Result 是解析结果：就绪值、失败或等待中的 Future 三者之一
type Result struct {
	value  any
	err    error
	future *Future
}

// Ready 返回一个就绪结果；传入 Result 或 *Future 时直接展开
func Ready(v any) Result {
	switch t := v.(type) {
	case Result:
		return t
	case *Future:
		return Pending(t)
	}
	return Result{value: v}
}

// Failed 返回失败结果
func Failed(err error) Result {
	return Result{err: err}
}

// Pending 包装一个 Future
func Pending(f *Future) Result {
	if f == nil {
		return Result{}
	}
	return Result{future: f}
}

// Async 是 Pending(Go(fn)) 的简写
func Async(fn func() (any, error)) Result {
	return Pending(Go(fn))
}

// IsPending 是否需要等待
func (r Result) IsPending() bool {
	return r.future != nil
}

// Future 返回底层 Future，同步结果返回 nil
func (r Result) Future() *Future {
	return r.future
}

// Value 返回同步结果；对等待中的结果返回 SyncResolutionError
func (r Result) Value() (any, error) {
	if r.future != nil {
		return nil, newError(KindSyncResolution, "", "cannot get value synchronously: the value is a pending future")
	}
	return r.value, r.err
}

// Err 返回同步失败的错误
func (r Result) Err() error {
	return r.err
}

// Await 等待结果
func (r Result) Await(ctx context.Context) (any, error) {
	if r.future != nil {
		return r.future.Await(ctx)
	}
	return r.value, r.err
}

// Then 在成功后继续；同步结果同步执行
func (r Result) Then(fn func(v any) Result) Result {
	if r.future == nil {
		if r.err != nil {
			return r
		}
		return fn(r.value)
	}
	f := r.future
	return Async(func() (any, error) {
		v, err := f.Await(context.Background())
		if err != nil {
			return nil, err
		}
		return fn(v).Await(context.Background())
	})
}

// Catch 处理失败
func (r Result) Catch(fn func(err error) Result) Result {
	if r.future == nil {
		if r.err == nil {
			return r
		}
		return fn(r.err)
	}
	f := r.future
	return Async(func() (any, error) {
		v, err := f.Await(context.Background())
		if err == nil {
			return v, nil
		}
		return fn(err).Await(context.Background())
	})
}

// Finally 无论成功失败都会执行 fn
func (r Result) Finally(fn func()) Result {
	if r.future == nil {
		fn()
		return r
	}
	f := r.future
	return Async(func() (any, error) {
		defer fn()
		return f.Await(context.Background())
	})
}

// All 合并多个结果；全部同步时同步返回 []any
func All(results []Result) Result {
	values := make([]any, len(results))
	pending := false
	for i, r := range results {
		if r.future != nil {
			pending = true
			continue
		}
		if r.err != nil {
			return r
		}
		values[i] = r.value
	}
	if !pending {
		return Ready(values)
	}

	return Async(func() (any, error) {
		g, gctx := errgroup.WithContext(context.Background())
		for i, r := range results {
			if r.future == nil {
				continue
			}
			g.Go(func() error {
				v, err := r.Await(gctx)
				if err != nil {
					return err
				}
				values[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return values, nil
	})
}
