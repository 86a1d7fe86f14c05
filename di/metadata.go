package di

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// ClassMeta 一个类型的注入元数据：构造函数参数、属性与方法参数的注入描述，以及拦截器。
//
// 元数据在定义阶段显式注册：
//
//	di.Describe[*UserService]("UserService").
//		Constructor(NewUserService, di.Inject("repositories.user"), di.InjectConfig("pageSize"))
//
// 结构体字段上的 `inject:"key"` 标签会在首次描述该类型时扫描一次。
type ClassMeta struct {
	name string
	typ  reflect.Type

	mu           sync.RWMutex
	ctor         *memberMeta
	props        []*propertyMeta
	methods      map[string]*MethodMeta
	interceptors []any
}

type memberMeta struct {
	// fn 构造函数，或方法表达式（第一个参数为接收者）
	fn     reflect.Value
	offset int
	target string
	params []*Injection
}

type propertyMeta struct {
	index     []int
	name      string
	injection *Injection
}

// MethodMeta 方法的注入与拦截元数据
type MethodMeta struct {
	class        *ClassMeta
	name         string
	member       memberMeta
	mu           sync.RWMutex
	interceptors []any
}

var classRegistry sync.Map // map[reflect.Type]*ClassMeta

// Describe 返回（必要时创建）类型 T 的元数据
func Describe[T any](name string) *ClassMeta {
	return describeType(TypeOf[T](), name)
}

// ClassFor 返回类型 t 的元数据
func ClassFor(t reflect.Type) *ClassMeta {
	return describeType(t, "")
}

func describeType(t reflect.Type, name string) *ClassMeta {
	if v, ok := classRegistry.Load(t); ok {
		meta := v.(*ClassMeta)
		if name != "" {
			meta.mu.Lock()
			meta.name = name
			meta.mu.Unlock()
		}
		return meta
	}
	if name == "" {
		name = typeName(t)
	}
	meta := &ClassMeta{
		name:    name,
		typ:     t,
		methods: make(map[string]*MethodMeta),
	}
	meta.scanTags()
	actual, _ := classRegistry.LoadOrStore(t, meta)
	return actual.(*ClassMeta)
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// classOf 把 ToClass/ToProvider/Instantiate 的参数转成元数据
func classOf(class any) *ClassMeta {
	switch v := class.(type) {
	case *ClassMeta:
		return v
	case reflect.Type:
		return ClassFor(v)
	case nil:
		panic(newError(KindInvalidValue, "", "class must not be nil"))
	}

	rv := reflect.ValueOf(class)
	if rv.Kind() != reflect.Func {
		return ClassFor(rv.Type())
	}
	ft := rv.Type()
	if ft.NumOut() == 0 {
		panic(newError(KindInvalidValue, "", "constructor %v must return at least one value", ft))
	}
	meta := ClassFor(ft.Out(0))
	meta.mu.RLock()
	same := meta.ctor != nil && meta.ctor.fn.Pointer() == rv.Pointer()
	meta.mu.RUnlock()
	if same {
		return meta
	}
	return meta.withConstructor(rv)
}

// withConstructor 派生一个使用给定构造函数（无参数元数据）的副本
func (m *ClassMeta) withConstructor(fn reflect.Value) *ClassMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &ClassMeta{
		name:         m.name,
		typ:          m.typ,
		ctor:         &memberMeta{fn: fn, target: m.name + ".constructor"},
		props:        slices.Clone(m.props),
		methods:      maps.Clone(m.methods),
		interceptors: slices.Clone(m.interceptors),
	}
}

// Name 类名，用于诊断信息
func (m *ClassMeta) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Type 被描述的类型
func (m *ClassMeta) Type() reflect.Type {
	return m.typ
}

// Constructor 注册构造函数；injections[i] 描述第 i 个参数，nil 表示由调用方显式传入
func (m *ClassMeta) Constructor(fn any, injections ...*Injection) *ClassMeta {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		panic(fmt.Sprintf("di: constructor of %s must be a function, got %T", m.name, fn))
	}
	if rv.Type().NumOut() == 0 {
		panic(fmt.Sprintf("di: constructor of %s must return at least one value", m.name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	member := &memberMeta{fn: rv, target: m.name + ".constructor"}
	member.params = bindParams(member, injections)
	m.ctor = member
	return m
}

// Property 显式注册字段注入，覆盖标签扫描的结果
func (m *ClassMeta) Property(field string, inj *Injection) *ClassMeta {
	st := m.structType()
	if st == nil {
		panic(fmt.Sprintf("di: %s is not a struct, cannot inject property %s", m.name, field))
	}
	f, ok := st.FieldByName(field)
	if !ok || !f.IsExported() {
		panic(fmt.Sprintf("di: %s has no exported field %s", m.name, field))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prop := &propertyMeta{
		index:     f.Index,
		name:      f.Name,
		injection: inj.bindTo(m.name+"."+f.Name, f.Type),
	}
	for i, p := range m.props {
		if p.name == f.Name {
			m.props[i] = prop
			return m
		}
	}
	m.props = append(m.props, prop)
	return m
}

// Method 注册方法参数注入；fn 为方法表达式，例如 (*UserService).Find
func (m *ClassMeta) Method(name string, fn any, injections ...*Injection) *MethodMeta {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.Type().NumIn() == 0 {
		panic(fmt.Sprintf("di: method %s.%s must be a method expression", m.name, name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.methods[name]
	if !ok {
		mm = &MethodMeta{class: m, name: name}
		m.methods[name] = mm
	}
	mm.member = memberMeta{fn: rv, offset: 1, target: m.name + "." + name}
	mm.member.params = bindParams(&mm.member, injections)
	return mm
}

// Intercept 添加类级拦截器：Interceptor 函数或绑定 key
func (m *ClassMeta) Intercept(items ...any) *ClassMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interceptors = append(m.interceptors, items...)
	return m
}

// Name 方法名
func (mm *MethodMeta) Name() string { return mm.name }

// Intercept 添加方法级拦截器
func (mm *MethodMeta) Intercept(items ...any) *MethodMeta {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.interceptors = append(mm.interceptors, items...)
	return mm
}

func (mm *MethodMeta) methodInterceptors() []any {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return append([]any(nil), mm.interceptors...)
}

func (m *ClassMeta) constructor() *memberMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctor
}

func (m *ClassMeta) properties() []*propertyMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*propertyMeta(nil), m.props...)
}

func (m *ClassMeta) classInterceptors() []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]any(nil), m.interceptors...)
}

func (m *ClassMeta) lookupMethod(name string) *MethodMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.methods[name]
}

func (m *ClassMeta) structType() reflect.Type {
	t := m.typ
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

func bindParams(member *memberMeta, injections []*Injection) []*Injection {
	ft := member.fn.Type()
	n := ft.NumIn() - member.offset
	if len(injections) > n {
		panic(fmt.Sprintf("di: %s accepts %d parameters but %d injections were given", member.target, n, len(injections)))
	}
	params := make([]*Injection, n)
	for i, inj := range injections {
		if inj == nil {
			continue
		}
		params[i] = inj.bindTo(fmt.Sprintf("%s[%d]", member.target, i), ft.In(i+member.offset))
	}
	return params
}

// scanTags 扫描 `inject` 结构体标签
//
//	Repo    *Repo          `inject:"repositories.user"`
//	Cache   Cache          `inject:"cache.default,optional"`
//	Plugins []Plugin       `inject:"tag=plugin"`
//	Port    int            `inject:"config=port"`
//	Next    di.Getter      `inject:"getter=services.next"`
//	Save    di.Setter      `inject:"setter=state.last"`
//	Routes  *di.View       `inject:"view=route"`
//	Ctx     *di.Context    `inject:"context"`
func (m *ClassMeta) scanTags() {
	st := m.structType()
	if st == nil {
		return
	}
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		tag, ok := field.Tag.Lookup("inject")
		if !ok || !field.IsExported() {
			continue
		}
		inj := parseInjectTag(tag)
		if inj == nil {
			continue
		}
		m.props = append(m.props, &propertyMeta{
			index:     field.Index,
			name:      field.Name,
			injection: inj.bindTo(m.name+"."+field.Name, field.Type),
		})
	}
}

func parseInjectTag(tag string) *Injection {
	parts := strings.Split(tag, ",")
	selector := strings.TrimSpace(parts[0])
	var opts []ResolveOption
	for _, part := range parts[1:] {
		switch strings.TrimSpace(part) {
		case "optional", "?":
			opts = append(opts, Optional())
		case "proxy":
			opts = append(opts, AsProxyWithInterceptors())
		}
	}

	if selector == "context" {
		return InjectContext()
	}
	kind, arg, found := strings.Cut(selector, "=")
	if !found {
		if selector == "" {
			return nil
		}
		return Inject(selector, opts...)
	}
	switch kind {
	case "tag":
		return InjectTag(arg, opts...)
	case "config":
		return InjectConfig(arg, opts...)
	case "getter":
		return InjectGetter(arg, opts...)
	case "setter":
		return InjectSetter(arg)
	case "view":
		return InjectView(ByTag(arg), opts...)
	}
	return Inject(selector, opts...)
}
