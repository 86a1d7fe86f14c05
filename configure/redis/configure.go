package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/logging"
	"github.com/redis/go-redis/v9"
)

const (
	// ClientTag 所有 redis 客户端绑定的标签，TagValue "name" 为客户端名
	ClientTag = "redis.client"
	// DefaultClientKey 名为 default 的客户端的别名
	DefaultClientKey = "redis.client"
)

// ClientKey 名为 name 的客户端绑定 key："redis.clients.<name>"
func ClientKey(name string) di.Key[*redis.Client] {
	return di.NewKey[*redis.Client]("redis.clients." + name)
}

// clientSet 记录已创建的客户端，停止时统一关闭
type clientSet struct {
	mu      sync.Mutex
	clients map[string]*redis.Client
}

func (s *clientSet) open(opts RedisClientOptions) *redis.Client {
	client := redis.NewClient(opts.redisOptions())
	s.mu.Lock()
	s.clients[opts.Name] = client
	s.mu.Unlock()
	return client
}

func (s *clientSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, client := range s.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close client '%s': %w", name, err))
		}
	}
	s.clients = make(map[string]*redis.Client)
	if len(errs) > 0 {
		return fmt.Errorf("errors closing redis clients: %v", errs)
	}
	return nil
}

// Configure 返回 Redis 配置器
// 客户端以 Singleton 绑定，首次解析时创建
//
//	builder.Configure(redis.Configure(func(b *redis.Builder) { b.AddClient("cache", nil) }))
func Configure(options func(*Builder)) core.Configurator {
	return func(ctx *core.BuildContext) {
		builder := NewBuilder(ctx)
		if options != nil {
			options(builder)
		}

		configs, err := builder.Build()
		if err != nil {
			ctx.AddError(err)
			return
		}
		if len(configs) == 0 {
			return
		}

		logger := ctx.GetLogger()
		set := &clientSet{clients: make(map[string]*redis.Client)}
		root := ctx.Context()

		for _, opts := range configs {
			key := ClientKey(opts.Name).Key()
			root.MustBind(key).
				ToDynamicValue(di.Factory(func() (any, error) {
					return set.open(opts), nil
				})).
				InScope(di.ScopeSingleton).
				Tag(ClientTag).
				TagValue("name", opts.Name)

			if opts.Name == "default" {
				root.MustBind(DefaultClientKey).ToAlias(key)
			}
			if opts.PingOnStart {
				ctx.Lifecycle().OnStart(func(c context.Context) error {
					client, err := ClientKey(opts.Name).Get(c, root)
					if err != nil {
						return err
					}
					if err := client.Ping(c).Err(); err != nil {
						return fmt.Errorf("failed to connect to redis '%s': %w", opts.Name, err)
					}
					return nil
				})
			}

			logger.Info("redis client registered",
				logging.String("name", opts.Name),
				logging.String("addr", opts.Addr),
				logging.Any("db", opts.DB))
		}

		ctx.SetCleanup("redis", func() {
			logger.Info("Closing redis clients")
			if err := set.Close(); err != nil {
				logger.Error("Failed to close redis clients", logging.Err(err))
			}
		})
	}
}
