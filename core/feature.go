package core

import (
	"reflect"
	"sync"
)

// FeatureCollection 构建期特性集合，按类型存放 WebHost、数据库工厂等，
// 供后续配置器发现
type FeatureCollection struct {
	features sync.Map
}

// Set 注册一个特性
func (fc *FeatureCollection) Set(feature any) {
	fc.features.Store(reflect.TypeOf(feature), feature)
}

// Get 获取一个特性
func (fc *FeatureCollection) Get(typ reflect.Type) (any, bool) {
	return fc.features.Load(typ)
}

// GetFeature 按类型取出特性，不存在时返回零值和 false
func GetFeature[T any](ctx *BuildContext) (T, bool) {
	var zero T
	val, ok := ctx.Features().Get(reflect.TypeOf((*T)(nil)).Elem())
	if !ok {
		return zero, false
	}
	return val.(T), true
}
