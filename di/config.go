package di

import "context"

const (
	// ConfigurationForTag 配置绑定上的标签，值为目标绑定的 key
	ConfigurationForTag = "configurationFor"
	// ConfigurationResolverKey 自定义 ConfigurationResolver 的绑定 key
	ConfigurationResolverKey = "$config.resolver"
)

// ConfigurationResolver 解析某个绑定的配置
type ConfigurationResolver interface {
	ResolveConfig(c *Context, key, path string, o ResolutionOptions) Result
}

// DefaultConfigurationResolver 从 "<key>:$config" 绑定读取配置
type DefaultConfigurationResolver struct{}

// ResolveConfig 实现 ConfigurationResolver
func (DefaultConfigurationResolver) ResolveConfig(c *Context, key, path string, o ResolutionOptions) Result {
	return c.resolveKey(ConfigKey(key), path, o)
}

// Configure 为 key 创建配置绑定
//
//	ctx.MustConfigure("servers.rest").To(RestConfig{Port: 3000})
//	port, _ := ctx.GetConfigSync("servers.rest", "Port")
func (c *Context) Configure(key string) (*Binding, error) {
	b, err := c.Bind(ConfigKey(key))
	if err != nil {
		return nil, err
	}
	b.TagValue(ConfigurationForTag, key)
	return b, nil
}

// MustConfigure 同 Configure，出错时 panic
func (c *Context) MustConfigure(key string) *Binding {
	b, err := c.Configure(key)
	if err != nil {
		panic(err)
	}
	return b
}

// GetConfigValueOrPromise 解析 key 的配置；path 为空时返回整个配置对象。
// 配置默认是可选的，找不到时返回 nil；传入 Required() 时返回 KeyNotBound。
func (c *Context) GetConfigValueOrPromise(key, path string, opts ...ResolveOption) Result {
	o := buildResolutionOptions(append([]ResolveOption{Optional()}, opts...))
	return c.getConfigResult(key, path, o)
}

// GetConfig 解析并等待配置
func (c *Context) GetConfig(ctx context.Context, key, path string, opts ...ResolveOption) (any, error) {
	return c.GetConfigValueOrPromise(key, path, opts...).Await(ctx)
}

// GetConfigSync 同步解析配置
func (c *Context) GetConfigSync(key, path string, opts ...ResolveOption) (any, error) {
	r := c.GetConfigValueOrPromise(key, path, opts...)
	if r.IsPending() {
		return nil, newError(KindSyncResolution, ConfigKey(key),
			"cannot get config of %s synchronously: the value is a future, use GetConfig instead", key)
	}
	return r.value, r.err
}

func (c *Context) getConfigResult(key, path string, o ResolutionOptions) Result {
	return c.configResolver().ResolveConfig(c, key, path, o)
}

func (c *Context) configResolver() ConfigurationResolver {
	v, err := c.GetSync(ConfigurationResolverKey, Optional())
	if err == nil {
		if r, ok := v.(ConfigurationResolver); ok {
			return r
		}
	}
	return DefaultConfigurationResolver{}
}
