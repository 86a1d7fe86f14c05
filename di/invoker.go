package di

import (
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// callFunc 调用参数已经按形参类型准备好的函数。
// ctorTarget 非空时按构造函数处理：必须返回非 nil 实例，错误会被包装。
func callFunc(fn reflect.Value, args []reflect.Value, ctorTarget string) Result {
	var results []reflect.Value
	if fn.Type().IsVariadic() {
		last := len(args) - 1
		if args[last].Kind() == reflect.Slice && args[last].IsNil() {
			results = fn.Call(args[:last])
		} else {
			results = fn.CallSlice(args)
		}
	} else {
		results = fn.Call(args)
	}
	return handleResults(results, ctorTarget)
}

// callWithArgs 只用显式实参调用函数（不做注入）
func callWithArgs(fn reflect.Value, args []any, target string) Result {
	ft := fn.Type()
	n := ft.NumIn()
	required := n
	if ft.IsVariadic() {
		required = n - 1
	}
	if len(args) < required {
		return Failed(newError(KindMissingDependency, "",
			"cannot invoke %s: parameter index %d has no explicit argument", target, len(args)))
	}
	if !ft.IsVariadic() && len(args) > n {
		return Failed(newError(KindTypeMismatch, "", "cannot invoke %s: expected %d arguments, got %d", target, n, len(args)))
	}

	values := make([]reflect.Value, len(args))
	for i, arg := range args {
		pt := paramType(ft, i)
		v, err := toArg(arg, pt)
		if err != nil {
			return Failed(newError(KindTypeMismatch, "", "%s[%d]: %v", target, i, err))
		}
		values[i] = v
	}
	return handleResults(fn.Call(values), "")
}

func paramType(ft reflect.Type, i int) reflect.Type {
	n := ft.NumIn()
	if ft.IsVariadic() && i >= n-1 {
		return ft.In(n - 1).Elem()
	}
	return ft.In(i)
}

// handleResults 拆分末尾的 error 返回值；返回值本身是 Result/*Future 时展开
func handleResults(results []reflect.Value, ctorTarget string) Result {
	if len(results) > 0 {
		last := results[len(results)-1]
		if last.Type() == errorType || (len(results) > 1 && last.Type().Implements(errorType)) {
			if !last.IsNil() {
				err := last.Interface().(error)
				if ctorTarget != "" {
					return Failed(fmt.Errorf("%s failed: %w", ctorTarget, err))
				}
				return Failed(err)
			}
			results = results[:len(results)-1]
		}
	}

	if len(results) == 0 {
		if ctorTarget != "" {
			return Failed(fmt.Errorf("%s returned no values", ctorTarget))
		}
		return Ready(nil)
	}

	first := results[0]
	if ctorTarget != "" {
		switch first.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func:
			if first.IsNil() {
				return Failed(fmt.Errorf("%s returned nil instance", ctorTarget))
			}
		}
	}
	return Ready(first.Interface())
}
