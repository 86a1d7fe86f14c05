package database

import (
	"fmt"

	"github.com/gocrud/inject/core"
	"gorm.io/gorm"
)

// Builder 数据库配置构建器
type Builder struct {
	core.BaseBuilder
	configs []DatabaseOptions
	errors  []error
}

// NewBuilder 创建构建器
func NewBuilder(ctx *core.BuildContext) *Builder {
	return &Builder{BaseBuilder: core.NewBaseBuilder(ctx)}
}

// Add 添加数据库配置
func (b *Builder) Add(name string, dialector gorm.Dialector, configure func(*DatabaseOptions)) *Builder {
	for _, existing := range b.configs {
		if existing.Name == name {
			b.errors = append(b.errors, fmt.Errorf("database '%s' already configured", name))
			return b
		}
	}

	opts := NewDefaultOptions(name, dialector)
	if configure != nil {
		configure(opts)
	}
	if err := opts.Validate(); err != nil {
		b.errors = append(b.errors, fmt.Errorf("invalid database configuration for '%s': %w", name, err))
		return b
	}

	b.configs = append(b.configs, *opts)
	return b
}

// Build 打开全部数据库，任一失败时关闭已打开的连接
func (b *Builder) Build() (*DatabaseFactory, []string, error) {
	if len(b.errors) > 0 {
		return nil, nil, fmt.Errorf("database configuration errors: %v", b.errors)
	}
	if len(b.configs) == 0 {
		return nil, nil, nil
	}

	factory := NewDatabaseFactory()
	names := make([]string, 0, len(b.configs))
	for _, opts := range b.configs {
		if err := factory.Register(opts); err != nil {
			_ = factory.Close()
			return nil, nil, err
		}
		names = append(names, opts.Name)
	}
	return factory, names, nil
}
