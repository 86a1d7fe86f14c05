package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Configuration 配置接口（类似于 .NET Core IConfiguration）
type Configuration interface {
	// Get 获取配置值
	Get(key string) string
	// GetWithDefault 获取配置值，如果不存在则返回默认值
	GetWithDefault(key, defaultValue string) string
	// GetInt 获取整数配置值
	GetInt(key string) (int, error)
	// GetBool 获取布尔配置值
	GetBool(key string) (bool, error)
	// Value 获取原始值，不存在时返回 nil
	Value(key string) any
	// GetSection 获取配置节
	GetSection(key string) Configuration
	// Bind 绑定配置到结构体，带 validate 标签的字段会被校验
	Bind(key string, target any) error
	// GetAll 获取所有配置
	GetAll() map[string]any
	// OnReload 注册重新加载后的回调
	OnReload(fn func())
}

// ConfigurationSource 配置源接口
type ConfigurationSource interface {
	Load() (map[string]any, error)
	Name() string
}

// WatchableSource 可以推送变更的配置源
type WatchableSource interface {
	ConfigurationSource
	// Watch 阻塞直到 ctx 取消，每次变更调用 onChange
	Watch(ctx context.Context, onChange func()) error
}

// ConfigurationBuilder 配置构建器
type ConfigurationBuilder struct {
	sources []ConfigurationSource
	mu      sync.RWMutex
}

// NewConfigurationBuilder 创建配置构建器
func NewConfigurationBuilder() *ConfigurationBuilder {
	return &ConfigurationBuilder{
		sources: make([]ConfigurationSource, 0),
	}
}

// Add 添加配置源
func (b *ConfigurationBuilder) Add(source ConfigurationSource) *ConfigurationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources = append(b.sources, source)
	return b
}

// AddJsonFile 添加 JSON 文件配置源
func (b *ConfigurationBuilder) AddJsonFile(path string, optional ...bool) *ConfigurationBuilder {
	isOptional := len(optional) > 0 && optional[0]
	return b.Add(&JsonFileSource{Path: path, Optional: isOptional})
}

// AddYamlFile 添加 YAML 文件配置源
func (b *ConfigurationBuilder) AddYamlFile(path string, optional ...bool) *ConfigurationBuilder {
	isOptional := len(optional) > 0 && optional[0]
	return b.Add(&YamlFileSource{Path: path, Optional: isOptional})
}

// AddDotEnv 添加 .env 文件配置源
func (b *ConfigurationBuilder) AddDotEnv(path, prefix string, optional ...bool) *ConfigurationBuilder {
	isOptional := len(optional) > 0 && optional[0]
	return b.Add(&DotEnvSource{Path: path, Prefix: prefix, Optional: isOptional})
}

// AddEnvironmentVariables 添加环境变量配置源
func (b *ConfigurationBuilder) AddEnvironmentVariables(prefix string) *ConfigurationBuilder {
	return b.Add(&EnvironmentVariableSource{Prefix: prefix})
}

// AddInMemory 添加内存配置源
func (b *ConfigurationBuilder) AddInMemory(data map[string]any) *ConfigurationBuilder {
	return b.Add(&InMemorySource{Data: data})
}

// Build 构建配置，按添加顺序加载，后面的源覆盖前面的
func (b *ConfigurationBuilder) Build() (*ReloadableConfiguration, error) {
	b.mu.RLock()
	sources := append([]ConfigurationSource(nil), b.sources...)
	b.mu.RUnlock()

	cfg := &ReloadableConfiguration{sources: sources}
	cfg.store = NewValueStore()
	if err := cfg.Reload(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfiguration 用静态数据创建配置
func NewConfiguration(data map[string]any) Configuration {
	cfg := &ReloadableConfiguration{store: NewValueStore()}
	copied := make(map[string]any)
	mergeMaps(copied, data)
	cfg.store.Store(copied)
	return cfg
}

// ReloadableConfiguration 基于 ValueStore 的配置，读取无锁，Reload 整体替换
type ReloadableConfiguration struct {
	sources []ConfigurationSource
	store   *ValueStore

	mu        sync.Mutex
	callbacks []func()
}

// Reload 重新加载全部配置源
func (c *ReloadableConfiguration) Reload() error {
	data := make(map[string]any)
	for _, source := range c.sources {
		loaded, err := source.Load()
		if err != nil {
			return fmt.Errorf("failed to load config source %s: %w", source.Name(), err)
		}
		mergeMaps(data, loaded)
	}
	c.store.Store(data)

	c.mu.Lock()
	callbacks := append([]func(){}, c.callbacks...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Watch 监听所有 WatchableSource，变更时 Reload；ctx 取消后返回
func (c *ReloadableConfiguration) Watch(ctx context.Context, onError func(error)) {
	var wg sync.WaitGroup
	for _, source := range c.sources {
		ws, ok := source.(WatchableSource)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ws.Watch(ctx, func() {
				if err := c.Reload(); err != nil && onError != nil {
					onError(err)
				}
			})
			if err != nil && ctx.Err() == nil && onError != nil {
				onError(fmt.Errorf("watch %s: %w", ws.Name(), err))
			}
		}()
	}
	wg.Wait()
}

// OnReload 注册重新加载回调
func (c *ReloadableConfiguration) OnReload(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// Get 获取配置值
func (c *ReloadableConfiguration) Get(key string) string {
	value := c.Value(key)
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// GetWithDefault 获取配置值，如果不存在则返回默认值
func (c *ReloadableConfiguration) GetWithDefault(key, defaultValue string) string {
	value := c.Get(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetInt 获取整数配置值
func (c *ReloadableConfiguration) GetInt(key string) (int, error) {
	value := c.Value(key)
	switch v := value.(type) {
	case nil:
		return 0, fmt.Errorf("key %s not found", key)
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("cannot convert %v to int", value)
	}
}

// GetBool 获取布尔配置值
func (c *ReloadableConfiguration) GetBool(key string) (bool, error) {
	value := c.Value(key)
	switch v := value.(type) {
	case nil:
		return false, fmt.Errorf("key %s not found", key)
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("cannot convert %v to bool", value)
	}
}

// Value 获取原始值，路径支持 "a:b:c" 或 "a.b.c"
func (c *ReloadableConfiguration) Value(key string) any {
	current := any(c.store.Load())
	if key == "" {
		return current
	}
	for _, part := range globalPathCache.GetPathSegments(key) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// GetSection 获取配置节的快照
func (c *ReloadableConfiguration) GetSection(key string) Configuration {
	m, _ := c.Value(key).(map[string]any)
	return NewConfiguration(m)
}

// Bind 绑定配置到结构体
func (c *ReloadableConfiguration) Bind(key string, target any) error {
	data := c.Value(key)
	if data == nil {
		return fmt.Errorf("key %s not found", key)
	}

	// 使用 JSON 序列化/反序列化进行绑定
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if err := Validate(target); err != nil {
		return fmt.Errorf("config section %s is invalid: %w", key, err)
	}
	return nil
}

// GetAll 获取所有配置的副本
func (c *ReloadableConfiguration) GetAll() map[string]any {
	result := make(map[string]any)
	mergeMaps(result, c.store.Load())
	return result
}

// mergeMaps 深度合并，src 覆盖 dst
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			dstMap, ok := dst[k].(map[string]any)
			if !ok {
				dstMap = make(map[string]any)
				dst[k] = dstMap
			}
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}
