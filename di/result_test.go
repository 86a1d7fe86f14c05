package di_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultThenSync(t *testing.T) {
	r := di.Ready(2).Then(func(v any) di.Result {
		return di.Ready(v.(int) * 21)
	})
	assert.False(t, r.IsPending())
	v, err := r.Value()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	failed := di.Failed(errors.New("nope")).Then(func(any) di.Result {
		t.Fatal("then must not run after failure")
		return di.Ready(nil)
	})
	assert.EqualError(t, failed.Err(), "nope")
}

func TestResultFlattening(t *testing.T) {
	inner := di.Async(func() (any, error) { return "deep", nil })
	outer := di.Async(func() (any, error) { return inner, nil })

	v, err := outer.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deep", v)

	assert.True(t, di.Ready(inner).IsPending())
	assert.Same(t, inner.Future(), di.Ready(inner.Future()).Future())
}

func TestResultCatchAndFinally(t *testing.T) {
	finished := make(chan struct{})
	r := di.Async(func() (any, error) { return nil, errors.New("late failure") }).
		Catch(func(err error) di.Result { return di.Ready("handled: " + err.Error()) }).
		Finally(func() { close(finished) })

	v, err := r.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "handled: late failure", v)
	<-finished
}

func TestAsyncPanicBecomesError(t *testing.T) {
	_, err := di.Async(func() (any, error) { panic("kaboom") }).Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestAll(t *testing.T) {
	sync := di.All([]di.Result{di.Ready(1), di.Ready("two")})
	v, err := sync.Value()
	require.NoError(t, err)
	assert.Equal(t, []any{1, "two"}, v)

	mixed := di.All([]di.Result{
		di.Ready(1),
		di.Async(func() (any, error) {
			time.Sleep(5 * time.Millisecond)
			return 2, nil
		}),
	})
	assert.True(t, mixed.IsPending())
	v, err = mixed.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, v)

	failing := di.All([]di.Result{
		di.Async(func() (any, error) { return nil, errors.New("first") }),
		di.Async(func() (any, error) {
			time.Sleep(50 * time.Millisecond)
			return 2, nil
		}),
	})
	_, err = failing.Await(context.Background())
	assert.EqualError(t, err, "first")
}

func TestAwaitCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := di.Async(func() (any, error) {
		<-block
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
