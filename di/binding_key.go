package di

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

const (
	// PropertySeparator 分隔 key 与嵌套属性路径，例如 "app.config#rest.port"
	PropertySeparator = "#"
	// ConfigKeySuffix 配置绑定的 key 后缀
	ConfigKeySuffix = ":$config"
)

// Key 是带类型的绑定 key
//
//	var Port = di.NewKey[int]("servers.rest.port")
//	port, err := Port.GetSync(ctx)
type Key[T any] struct {
	key  string
	path string
}

// NewKey 从 "key" 或 "key#path" 创建类型化 key
func NewKey[T any](keyWithPath string) Key[T] {
	key, path, _ := ParseKeyWithPath(keyWithPath)
	return Key[T]{key: key, path: path}
}

// Key 返回不带属性路径的 key
func (k Key[T]) Key() string { return k.key }

// Path 返回属性路径
func (k Key[T]) Path() string { return k.path }

func (k Key[T]) String() string {
	if k.path == "" {
		return k.key
	}
	return k.key + PropertySeparator + k.path
}

// Get 在 c 上解析 key 并断言为 T
func (k Key[T]) Get(ctx context.Context, c *Context, opts ...ResolveOption) (T, error) {
	return Get[T](ctx, c, k.String(), opts...)
}

// GetSync 同步解析
func (k Key[T]) GetSync(c *Context, opts ...ResolveOption) (T, error) {
	return GetSync[T](c, k.String(), opts...)
}

// ParseKeyWithPath 拆分 "key#a.b.c"
func ParseKeyWithPath(s string) (key, path string, err error) {
	idx := strings.Index(s, PropertySeparator)
	if idx < 0 {
		return s, "", nil
	}
	key, path = s[:idx], s[idx+1:]
	if key == "" {
		return "", "", newError(KindInvalidKeySyntax, s, "binding key '%s' has an empty key before '#'", s)
	}
	return key, path, nil
}

// ValidateKey 绑定自身的 key 不允许包含 '#'
func ValidateKey(key string) error {
	if key == "" {
		return newError(KindInvalidKeySyntax, key, "binding key must not be empty")
	}
	if strings.Contains(key, PropertySeparator) {
		return newError(KindInvalidKeySyntax, key, "binding key '%s' cannot contain '%s'", key, PropertySeparator)
	}
	return nil
}

// ConfigKey 返回 key 对应的配置绑定 key
func ConfigKey(key string) string {
	if key == "" {
		return "$config"
	}
	return key + ConfigKeySuffix
}

// pathCache 缓存属性路径的分段结果
type pathCache struct {
	cache sync.Map
}

func (c *pathCache) segments(path string) []string {
	if v, ok := c.cache.Load(path); ok {
		return v.([]string)
	}
	parts := strings.Split(path, ".")
	c.cache.Store(path, parts)
	return parts
}

var globalPathCache = &pathCache{}

// GetDeepProperty 沿点分路径读取嵌套属性，缺失的中间属性返回 nil
//
// 支持 map（字符串 key）、结构体（导出字段名或 json 标签名）、指针以及切片下标。
func GetDeepProperty(value any, path string) any {
	if path == "" {
		return value
	}
	current := reflect.ValueOf(value)
	for _, seg := range globalPathCache.segments(path) {
		if seg == "" {
			continue
		}
		current = step(current, seg)
		if !current.IsValid() {
			return nil
		}
	}
	if !current.IsValid() || !current.CanInterface() {
		return nil
	}
	return current.Interface()
}

func step(v reflect.Value, seg string) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}
		}
		item := v.MapIndex(reflect.ValueOf(seg).Convert(v.Type().Key()))
		return item
	case reflect.Struct:
		if f := v.FieldByName(seg); f.IsValid() && f.CanInterface() {
			return f
		}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == seg {
				return v.Field(i)
			}
		}
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= v.Len() {
			return reflect.Value{}
		}
		return v.Index(idx)
	}
	return reflect.Value{}
}
