package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/gocrud/inject/di"
	"github.com/redis/go-redis/v9"
)

// CacheOptions 缓存拦截器配置
type CacheOptions struct {
	// ClientKey 使用的客户端绑定，默认为 DefaultClientKey
	ClientKey string
	// Prefix 缓存 key 前缀
	Prefix string
	TTL    time.Duration
}

// CacheInterceptor 以 "<prefix><类名>.<方法名>:<参数 JSON>" 为 key 缓存方法的返回值。
// 命中时按方法第一个返回值的类型解码，不再调用目标方法。
//
//	di.Describe[*UserService]("UserService").
//		Method("Find", (*UserService).Find).
//		Intercept(redis.CacheInterceptor(redis.CacheOptions{TTL: time.Minute}))
func CacheInterceptor(opts CacheOptions) di.Interceptor {
	if opts.ClientKey == "" {
		opts.ClientKey = DefaultClientKey
	}
	if opts.Prefix == "" {
		opts.Prefix = "cache:"
	}

	return func(ic *di.InvocationContext, next di.Next) di.Result {
		outType, err := returnType(ic)
		if err != nil {
			return di.Failed(err)
		}
		args, err := json.Marshal(ic.Args)
		if err != nil {
			return di.Failed(fmt.Errorf("cache key for %s: %w", ic.TargetName(), err))
		}
		cacheKey := opts.Prefix + ic.TargetName() + ":" + string(args)

		return ic.GetValueOrPromise(opts.ClientKey).Then(func(v any) di.Result {
			client, ok := v.(*redis.Client)
			if !ok {
				return di.Failed(fmt.Errorf("binding %s is %T, not *redis.Client", opts.ClientKey, v))
			}
			return di.Async(func() (any, error) {
				ctx := context.Background()
				cached, err := client.Get(ctx, cacheKey).Bytes()
				switch {
				case err == nil:
					out := reflect.New(outType)
					if err := json.Unmarshal(cached, out.Interface()); err != nil {
						return nil, fmt.Errorf("decode cached %s: %w", cacheKey, err)
					}
					return out.Elem().Interface(), nil
				case !errors.Is(err, redis.Nil):
					return nil, err
				}

				value, err := next().Await(ctx)
				if err != nil {
					return nil, err
				}
				data, err := json.Marshal(value)
				if err != nil {
					return nil, fmt.Errorf("encode %s result: %w", ic.TargetName(), err)
				}
				if err := client.Set(ctx, cacheKey, data, opts.TTL).Err(); err != nil {
					return nil, err
				}
				return value, nil
			})
		})
	}
}

func returnType(ic *di.InvocationContext) (reflect.Type, error) {
	m := reflect.ValueOf(ic.Target()).MethodByName(ic.MethodName())
	if !m.IsValid() || m.Type().NumOut() == 0 {
		return nil, fmt.Errorf("%s has no return value to cache", ic.TargetName())
	}
	return m.Type().Out(0), nil
}
