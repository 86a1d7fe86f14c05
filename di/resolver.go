package di

import (
	"fmt"
	"reflect"
)

// Instantiate 通过注入创建 class 的实例；args 为显式位置参数，优先于注入
//
// 所有依赖都是同步值时结果同步返回，否则返回等待中的 Result。
func Instantiate(class any, c *Context, args ...any) Result {
	return instantiate(classOf(class), c, nil, args)
}

func instantiate(meta *ClassMeta, c *Context, session *ResolutionSession, explicit []any) Result {
	if session == nil {
		session = NewResolutionSession()
	}

	var created Result
	if ctor := meta.constructor(); ctor != nil {
		created = resolveArgs(ctor, c, session, explicit).Then(func(v any) Result {
			return callFunc(ctor.fn, v.([]reflect.Value), ctor.target)
		})
	} else {
		inst, err := meta.newInstance()
		if err != nil {
			return Failed(err)
		}
		created = Result{value: inst}
	}

	return created.Then(func(inst any) Result {
		return injectProperties(meta, inst, c, session)
	})
}

func (m *ClassMeta) newInstance() (any, error) {
	t := m.typ
	switch {
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		return reflect.New(t.Elem()).Interface(), nil
	case t.Kind() == reflect.Struct:
		return reflect.New(t).Elem().Interface(), nil
	}
	return nil, newError(KindTypeMismatch, "", "cannot instantiate %s: no constructor registered for %v", m.Name(), t)
}

// resolveArgs 解析成员的全部参数，结果为 []reflect.Value
func resolveArgs(member *memberMeta, c *Context, session *ResolutionSession, explicit []any) Result {
	ft := member.fn.Type()
	n := ft.NumIn() - member.offset
	results := make([]Result, n)

	for i := 0; i < n; i++ {
		if i < len(explicit) {
			results[i] = Result{value: explicit[i]}
			continue
		}
		var inj *Injection
		if i < len(member.params) {
			inj = member.params[i]
		}
		if inj == nil {
			if ft.IsVariadic() && i == n-1 {
				results[i] = Result{}
				continue
			}
			return Failed(newError(KindMissingDependency, "",
				"cannot resolve injected arguments for %s: parameter index %d has no injection metadata and no explicit argument was supplied",
				member.target, i))
		}
		branch := session.Fork()
		branch.pushInjection(inj)
		results[i] = resolveInjection(c, inj, branch)
	}

	return All(results).Then(func(v any) Result {
		values := v.([]any)
		args := make([]reflect.Value, n)
		for i, val := range values {
			arg, err := toArg(val, ft.In(i+member.offset))
			if err != nil {
				return Failed(newError(KindTypeMismatch, "",
					"%s[%d]: %v", member.target, i, err))
			}
			args[i] = arg
		}
		return Result{value: args}
	})
}

func injectProperties(meta *ClassMeta, inst any, c *Context, session *ResolutionSession) Result {
	props := meta.properties()
	if len(props) == 0 || inst == nil {
		return Result{value: inst}
	}

	rv := reflect.ValueOf(inst)
	var target reflect.Value
	byValue := false
	switch {
	case rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct:
		target = rv.Elem()
	case rv.Kind() == reflect.Struct:
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		target = ptr.Elem()
		byValue = true
	default:
		return Result{value: inst}
	}

	results := make([]Result, len(props))
	for i, p := range props {
		branch := session.Fork()
		branch.pushInjection(p.injection)
		results[i] = resolveInjection(c, p.injection, branch)
	}

	return All(results).Then(func(v any) Result {
		for i, val := range v.([]any) {
			if val == nil {
				continue
			}
			field := target.FieldByIndex(props[i].index)
			arg, err := toArg(val, field.Type())
			if err != nil {
				return Failed(newError(KindTypeMismatch, "", "%s: %v", props[i].injection.Target(), err))
			}
			field.Set(arg)
		}
		if byValue {
			return Result{value: target.Interface()}
		}
		return Result{value: inst}
	})
}

// invokeWithInjection 以注入参数调用方法
func invokeWithInjection(mm *MethodMeta, target any, c *Context, session *ResolutionSession, explicit []any) Result {
	if session == nil {
		session = NewResolutionSession()
	}
	member := &mm.member
	return resolveArgs(member, c, session, explicit).Then(func(v any) Result {
		args := append([]reflect.Value{reflect.ValueOf(target)}, v.([]reflect.Value)...)
		return callFunc(member.fn, args, "")
	})
}

// toArg 把解析出的值转换为参数类型
func toArg(val any, t reflect.Type) (reflect.Value, error) {
	if val == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if t.Kind() == reflect.Slice && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i)
			if item.Kind() == reflect.Interface {
				if item.IsNil() {
					continue
				}
				item = item.Elem()
			}
			elem, err := toArg(item.Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	}
	if convertible(rv.Type(), t) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("value of type %T is not assignable to %v", val, t)
}

func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	return (isNumeric(from) && isNumeric(to)) || (from.Kind() == reflect.String && to.Kind() == reflect.String)
}

func isNumeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
