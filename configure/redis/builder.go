package redis

import (
	"fmt"

	"github.com/gocrud/inject/core"
)

// Builder Redis 客户端配置构建器
type Builder struct {
	core.BaseBuilder
	configs []RedisClientOptions
	errors  []error
}

// NewBuilder 创建 Redis 构建器
func NewBuilder(ctx *core.BuildContext) *Builder {
	return &Builder{BaseBuilder: core.NewBaseBuilder(ctx)}
}

// AddClient 添加一个 Redis 客户端配置
func (b *Builder) AddClient(name string, configure func(*RedisClientOptions)) *Builder {
	opts := NewDefaultOptions(name)
	if configure != nil {
		configure(opts)
	}
	return b.add(*opts)
}

// AddClientFromConfig 从配置节读取客户端配置，未设置的字段使用默认值
//
//	redis:
//	  cache:
//	    addr: localhost:6379
func (b *Builder) AddClientFromConfig(name, section string) *Builder {
	opts := NewDefaultOptions(name)
	if err := b.ConfigContext().GetConfiguration().Bind(section, opts); err != nil {
		b.errors = append(b.errors, fmt.Errorf("redis client '%s': %w", name, err))
		return b
	}
	opts.Name = name
	return b.add(*opts)
}

func (b *Builder) add(opts RedisClientOptions) *Builder {
	for _, existing := range b.configs {
		if existing.Name == opts.Name {
			b.errors = append(b.errors, fmt.Errorf("redis client '%s' already configured", opts.Name))
			return b
		}
	}
	if err := opts.Validate(); err != nil {
		b.errors = append(b.errors, fmt.Errorf("invalid redis configuration for '%s': %w", opts.Name, err))
		return b
	}
	b.configs = append(b.configs, opts)
	return b
}

// Build 检查配置并返回全部客户端配置
func (b *Builder) Build() ([]RedisClientOptions, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("redis configuration errors: %v", b.errors)
	}
	return b.configs, nil
}
