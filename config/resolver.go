package config

import (
	"fmt"

	"github.com/gocrud/inject/di"
)

// Resolver 让 di 的 GetConfig 读取 Configuration。
// 上下文链中存在 "<key>:$config" 绑定时优先使用绑定，否则读取同名配置节：
//
//	ctx.MustBind(di.ConfigurationResolverKey).To(config.NewResolver(cfg))
//	port, _ := ctx.GetConfigSync("servers.rest", "port") // servers.rest.port
type Resolver struct {
	cfg Configuration
}

// NewResolver 创建 Resolver
func NewResolver(cfg Configuration) *Resolver {
	return &Resolver{cfg: cfg}
}

// ResolveConfig 实现 di.ConfigurationResolver
func (r *Resolver) ResolveConfig(c *di.Context, key, path string, o di.ResolutionOptions) di.Result {
	if c.IsBound(di.ConfigKey(key)) {
		return di.DefaultConfigurationResolver{}.ResolveConfig(c, key, path, o)
	}

	full := joinPath(key, path)
	v := r.cfg.Value(full)
	if v == nil && !o.Optional {
		return di.Failed(&di.Error{
			Kind:    di.KindKeyNotBound,
			Key:     di.ConfigKey(key),
			Message: fmt.Sprintf("configuration %q is not set", full),
		})
	}
	return di.Ready(v)
}

func joinPath(key, path string) string {
	switch {
	case key == "":
		return path
	case path == "":
		return key
	}
	return key + "." + path
}
