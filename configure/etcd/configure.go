package etcd

import (
	"context"
	"fmt"
	"sync"

	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/logging"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// ClientTag 所有 etcd 客户端绑定的标签
	ClientTag = "etcd.client"
	// DefaultClientKey 名为 default 的客户端的别名
	DefaultClientKey = "etcd.client"
)

// ClientKey 名为 name 的客户端绑定 key："etcd.clients.<name>"
func ClientKey(name string) di.Key[*clientv3.Client] {
	return di.NewKey[*clientv3.Client]("etcd.clients." + name)
}

type clientSet struct {
	mu      sync.Mutex
	clients map[string]*clientv3.Client
}

func (s *clientSet) open(opts EtcdClientOptions) (*clientv3.Client, error) {
	client, err := clientv3.New(opts.config())
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client '%s': %w", opts.Name, err)
	}
	s.mu.Lock()
	s.clients[opts.Name] = client
	s.mu.Unlock()
	return client, nil
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
	s.clients = make(map[string]*clientv3.Client)
	if len(errs) > 0 {
		return fmt.Errorf("errors closing etcd clients: %v", errs)
	}
	return nil
}

// Configure 返回 Etcd 配置器
//
//	builder.Configure(etcd.Configure(func(b *etcd.Builder) { b.AddClient("default", nil) }))
func Configure(options func(*Builder)) core.Configurator {
	return func(ctx *core.BuildContext) {
		builder := NewBuilder(ctx)
		if options != nil {
			options(builder)
		}

		configs, keys, err := builder.Build()
		if err != nil {
			ctx.AddError(err)
			return
		}
		if len(configs) == 0 {
			return
		}

		logger := ctx.GetLogger()
		root := ctx.Context()
		set := &clientSet{clients: make(map[string]*clientv3.Client)}
		timeouts := make(map[string]EtcdClientOptions, len(configs))

		for _, opts := range configs {
			timeouts[opts.Name] = opts
			key := ClientKey(opts.Name).Key()
			root.MustBind(key).
				ToDynamicValue(di.Factory(func() (any, error) {
					return set.open(opts)
				})).
				InScope(di.ScopeSingleton).
				Tag(ClientTag).
				TagValue("name", opts.Name)
			if opts.Name == "default" {
				root.MustBind(DefaultClientKey).ToAlias(key)
			}
			logger.Info("etcd client registered",
				logging.String("name", opts.Name),
				logging.Any("endpoints", opts.Endpoints))
		}

		for _, k := range keys {
			opts := timeouts[k.client]
			root.MustBind(k.bindingKey).ToDynamicValue(func(rc *di.ResolutionContext) di.Result {
				return rc.Context.GetValueOrPromise(ClientKey(k.client).Key(), di.WithSession(rc.Options.Session)).
					Then(func(v any) di.Result {
						client := v.(*clientv3.Client)
						return di.Async(func() (any, error) {
							return readKey(client, k.etcdKey, opts)
						})
					})
			})
		}

		ctx.SetCleanup("etcd", func() {
			logger.Info("Closing etcd clients")
			if err := set.Close(); err != nil {
				logger.Error("Failed to close etcd clients", logging.Err(err))
			}
		})
	}
}

// readKey 读取单个键，不存在时返回 nil
func readKey(client *clientv3.Client, key string, opts EtcdClientOptions) (any, error) {
	ctx := context.Background()
	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}
	resp, err := client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("etcd get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return string(resp.Kvs[0].Value), nil
}
