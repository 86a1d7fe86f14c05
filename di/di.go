package di

import (
	"context"
	"fmt"
	"reflect"
)

// TypeOf 获取类型 T 的 reflect.Type
//
//	svcType := di.TypeOf[UserService]()
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Get 解析 key 并断言为 T
func Get[T any](ctx context.Context, c *Context, keyWithPath string, opts ...ResolveOption) (T, error) {
	val, err := c.Get(ctx, keyWithPath, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](val, keyWithPath)
}

// GetSync 同步解析 key 并断言为 T
func GetSync[T any](c *Context, keyWithPath string, opts ...ResolveOption) (T, error) {
	val, err := c.GetSync(keyWithPath, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](val, keyWithPath)
}

// MustGet 同步解析，失败时 panic；用于启动阶段
func MustGet[T any](c *Context, keyWithPath string) T {
	v, err := GetSync[T](c, keyWithPath)
	if err != nil {
		panic(fmt.Sprintf("di: failed to resolve %s: %v", keyWithPath, err))
	}
	return v
}

func cast[T any](val any, key string) (T, error) {
	var zero T
	if val == nil {
		return zero, nil
	}
	if v, ok := val.(T); ok {
		return v, nil
	}
	return zero, newError(KindTypeMismatch, key, "resolved value of %s is %T, expected %v", key, val, TypeOf[T]())
}
