package etcd

import (
	"fmt"

	"github.com/gocrud/inject/core"
)

// keyBinding 把一个 etcd 键暴露为绑定
type keyBinding struct {
	bindingKey string
	etcdKey    string
	client     string
}

// Builder Etcd 客户端配置构建器
type Builder struct {
	core.BaseBuilder
	configs []EtcdClientOptions
	keys    []keyBinding
	errors  []error
}

// NewBuilder 创建 Etcd 构建器
func NewBuilder(ctx *core.BuildContext) *Builder {
	return &Builder{BaseBuilder: core.NewBaseBuilder(ctx)}
}

// AddClient 添加一个 etcd 客户端配置
func (b *Builder) AddClient(name string, configure func(*EtcdClientOptions)) *Builder {
	if b.has(name) {
		b.errors = append(b.errors, fmt.Errorf("etcd client '%s' already configured", name))
		return b
	}

	opts := NewDefaultOptions(name)
	if configure != nil {
		configure(opts)
	}
	if err := opts.Validate(); err != nil {
		b.errors = append(b.errors, fmt.Errorf("invalid etcd configuration for '%s': %w", name, err))
		return b
	}

	b.configs = append(b.configs, *opts)
	return b
}

// BindKey 将 bindingKey 绑定为 etcd 键 etcdKey 的当前值（每次解析读取一次）
//
//	b.BindKey("features.flags", "/app/features", "default")
func (b *Builder) BindKey(bindingKey, etcdKey, client string) *Builder {
	b.keys = append(b.keys, keyBinding{bindingKey: bindingKey, etcdKey: etcdKey, client: client})
	return b
}

func (b *Builder) has(name string) bool {
	for _, c := range b.configs {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Build 检查配置
func (b *Builder) Build() ([]EtcdClientOptions, []keyBinding, error) {
	errs := append([]error(nil), b.errors...)
	for _, k := range b.keys {
		if !b.has(k.client) {
			errs = append(errs, fmt.Errorf("etcd key %s refers to unknown client '%s'", k.etcdKey, k.client))
		}
	}
	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("etcd configuration errors: %v", errs)
	}
	return b.configs, b.keys, nil
}
