package di

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// BindingFilter 绑定过滤器
type BindingFilter interface {
	Match(b *Binding) bool
}

// FilterFunc 函数形式的过滤器
type FilterFunc func(b *Binding) bool

func (f FilterFunc) Match(b *Binding) bool { return f(b) }

// indexedFilter 可以借助标签索引缩小候选集合的过滤器
type indexedFilter interface {
	BindingFilter
	// indexTag 返回一个具体标签名，所有匹配的绑定都必须带有它
	indexTag() (string, bool)
}

// DefaultKeySeparators glob 中 '*' 与 '?' 不会跨越的分隔符
var DefaultKeySeparators = []rune{'.', ':'}

var globCache sync.Map // map[string]glob.Glob

func compileGlob(pattern string, separators []rune) (glob.Glob, error) {
	cacheKey := string(separators) + "\x00" + pattern
	if g, ok := globCache.Load(cacheKey); ok {
		return g.(glob.Glob), nil
	}
	g, err := glob.Compile(pattern, separators...)
	if err != nil {
		return nil, err
	}
	globCache.Store(cacheKey, g)
	return g, nil
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// ByKey 按精确 key 或 glob 模式过滤，'*' 不跨越 '.' 与 ':'
func ByKey(pattern string) BindingFilter {
	return ByKeyWithSeparators(pattern, DefaultKeySeparators...)
}

// ByKeyWithSeparators 使用自定义分隔符的 glob 过滤
func ByKeyWithSeparators(pattern string, separators ...rune) BindingFilter {
	if !isGlob(pattern) {
		return FilterFunc(func(b *Binding) bool { return b.Key() == pattern })
	}
	g, err := compileGlob(pattern, separators)
	if err != nil {
		return FilterFunc(func(b *Binding) bool { return b.Key() == pattern })
	}
	return FilterFunc(func(b *Binding) bool { return g.Match(b.Key()) })
}

// ByKeyRegexp 按正则过滤 key
func ByKeyRegexp(re *regexp.Regexp) BindingFilter {
	return FilterFunc(func(b *Binding) bool { return re.MatchString(b.Key()) })
}

type tagNameFilter struct {
	name string
}

func (f tagNameFilter) Match(b *Binding) bool {
	_, ok := b.LookupTag(f.name)
	return ok
}

func (f tagNameFilter) indexTag() (string, bool) { return f.name, true }

// ByTag 按标签名过滤；名称可以是 glob 模式
func ByTag(name string) BindingFilter {
	if !isGlob(name) {
		return tagNameFilter{name: name}
	}
	g, err := compileGlob(name, DefaultKeySeparators)
	if err != nil {
		return tagNameFilter{name: name}
	}
	return FilterFunc(func(b *Binding) bool {
		return slices.ContainsFunc(b.TagNames(), g.Match)
	})
}

// ByTagRegexp 按正则过滤标签名
func ByTagRegexp(re *regexp.Regexp) BindingFilter {
	return FilterFunc(func(b *Binding) bool {
		return slices.ContainsFunc(b.TagNames(), re.MatchString)
	})
}

type tagMapFilter struct {
	tags  map[string]string
	first string
}

func (f tagMapFilter) Match(b *Binding) bool {
	for name, want := range f.tags {
		got, ok := b.LookupTag(name)
		if !ok || (want != AnyTagValue && got != want) {
			return false
		}
	}
	return true
}

func (f tagMapFilter) indexTag() (string, bool) { return f.first, f.first != "" }

// AnyTagValue 在 ByTagMap 中表示只要求标签存在
const AnyTagValue = "*"

// ByTagMap 要求所有标签名与值都匹配
func ByTagMap(tags map[string]string) BindingFilter {
	f := tagMapFilter{tags: tags}
	for name := range tags {
		if f.first == "" || name < f.first {
			f.first = name
		}
	}
	return f
}

type andFilter struct {
	filters []BindingFilter
}

func (f andFilter) Match(b *Binding) bool {
	for _, filter := range f.filters {
		if !filter.Match(b) {
			return false
		}
	}
	return true
}

func (f andFilter) indexTag() (string, bool) {
	for _, filter := range f.filters {
		if idx, ok := filter.(indexedFilter); ok {
			return idx.indexTag()
		}
	}
	return "", false
}

// And 组合多个过滤器
func And(filters ...BindingFilter) BindingFilter {
	return andFilter{filters: filters}
}

// MatchAll 匹配所有绑定
var MatchAll BindingFilter = FilterFunc(func(*Binding) bool { return true })

// BindingComparator 绑定排序函数，返回值语义同 cmp.Compare
type BindingComparator func(a, b *Binding) int

// CompareByTag 按标签值在 order 中的位置排序；不在列表中的排在前面
func CompareByTag(tagName string, order []string) BindingComparator {
	rank := func(b *Binding) int {
		v, ok := b.LookupTag(tagName)
		if !ok {
			return -1
		}
		return slices.Index(order, v)
	}
	return func(a, b *Binding) int {
		return rank(a) - rank(b)
	}
}

func sortBindings(bindings []*Binding, cmp BindingComparator) {
	if cmp == nil {
		return
	}
	slices.SortStableFunc(bindings, cmp)
}
