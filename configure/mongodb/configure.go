package mongodb

import (
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/logging"
	"github.com/gocrud/mgo"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const (
	// ClientTag 所有 mongo 客户端绑定的标签
	ClientTag = "mongodb.client"
	// DefaultClientKey 名为 default 的客户端的别名
	DefaultClientKey = "mongodb.client"
	// MgoClientTag 所有 mgo 客户端绑定的标签
	MgoClientTag = "mongodb.mgo"
)

// ClientKey 名为 name 的客户端绑定 key
func ClientKey(name string) di.Key[*mongo.Client] {
	return di.NewKey[*mongo.Client]("mongodb.clients." + name)
}

// MgoClientKey 名为 name 的 mgo 客户端绑定 key，与 ClientKey(name) 共用配置
func MgoClientKey(name string) di.Key[*mgo.Client] {
	return di.NewKey[*mgo.Client]("mongodb.mgo." + name)
}

// DatabaseKey 名为 name 的客户端上配置的默认数据库
func DatabaseKey(name string) di.Key[*mongo.Database] {
	return di.NewKey[*mongo.Database]("mongodb.databases." + name)
}

// Configure 返回 MongoDB 配置器
// 每个客户端绑定为 Singleton Provider，首次解析时连接
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
		root := ctx.Context()
		set := newClientSet()
		root.MustBind(clientSetKey).To(set)

		for _, opts := range configs {
			clientKey := ClientKey(opts.Name)
			root.MustConfigure(clientKey.Key()).To(&opts)
			root.MustBind(clientKey.Key()).
				ToProvider(di.TypeOf[*clientProvider]()).
				InScope(di.ScopeSingleton).
				Tag(ClientTag).
				TagValue("name", opts.Name)

			mgoKey := MgoClientKey(opts.Name).Key()
			root.MustConfigure(mgoKey).ToAlias(di.ConfigKey(clientKey.Key()))
			root.MustBind(mgoKey).
				ToProvider(di.TypeOf[*mgoProvider]()).
				InScope(di.ScopeSingleton).
				Tag(MgoClientTag).
				TagValue("name", opts.Name)

			if opts.Database != "" {
				database := opts.Database
				root.MustBind(DatabaseKey(opts.Name).Key()).
					ToDynamicValue(func(rc *di.ResolutionContext) di.Result {
						return rc.Context.GetValueOrPromise(clientKey.Key(), di.WithSession(rc.Options.Session)).
							Then(func(v any) di.Result {
								return di.Ready(v.(*mongo.Client).Database(database))
							})
					}).
					InScope(di.ScopeSingleton)
			}
			if opts.Name == "default" {
				root.MustBind(DefaultClientKey).ToAlias(clientKey.Key())
			}

			logger.Info("Mongo client registered",
				logging.String("name", opts.Name),
				logging.String("database", opts.Database))
		}

		ctx.SetCleanup("mongodb", func() {
			logger.Info("Closing mongo clients")
			if err := set.Close(); err != nil {
				logger.Error("Failed to close mongo clients", logging.Err(err))
			}
		})
	}
}
