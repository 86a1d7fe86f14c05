package database

import (
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/logging"
	"gorm.io/gorm"
)

const (
	// FactoryKey DatabaseFactory 的绑定 key
	FactoryKey = "database.factory"
	// DatabaseTag 所有数据库绑定的标签
	DatabaseTag = "database"
	// DefaultKey 名为 default 的数据库的别名
	DefaultKey = "database.db"
)

// Key 名为 name 的数据库绑定 key："database.dbs.<name>"
func Key(name string) di.Key[*gorm.DB] {
	return di.NewKey[*gorm.DB]("database.dbs." + name)
}

// Configure 返回数据库配置器
func Configure(options func(*Builder)) core.Configurator {
	return func(ctx *core.BuildContext) {
		builder := NewBuilder(ctx)
		if options != nil {
			options(builder)
		}

		factory, names, err := builder.Build()
		if err != nil {
			ctx.AddError(err)
			return
		}
		if factory == nil {
			return
		}

		logger := ctx.GetLogger()
		root := ctx.Context()
		root.MustBind(FactoryKey).To(factory)

		for _, name := range names {
			db, _ := factory.Get(name)
			root.MustBind(Key(name).Key()).To(db).Tag(DatabaseTag).TagValue("name", name)
			if name == "default" {
				root.MustBind(DefaultKey).ToAlias(Key(name).Key())
			}
			logger.Info("Database registered", logging.String("name", name))
		}

		ctx.SetCleanup("database", func() {
			logger.Info("Closing database connections")
			if err := factory.Close(); err != nil {
				logger.Error("Failed to close databases", logging.Err(err))
			}
		})
	}
}
