package di

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindKeyNotBound 在上下文链中找不到必需的 key
	KindKeyNotBound
	// KindRebindLockedKey 重新绑定已锁定的 key
	KindRebindLockedKey
	// KindUnbindLockedKey 解绑已锁定的 key
	KindUnbindLockedKey
	// KindInvalidKeySyntax key 中包含保留的 '#' 分隔符
	KindInvalidKeySyntax
	// KindMissingDependency 参数既没有注入元数据也没有显式实参
	KindMissingDependency
	// KindCircularDependency 解析会话中检测到循环依赖
	KindCircularDependency
	// KindTypeMismatch 目标类型与注入结果不兼容
	KindTypeMismatch
	// KindScopeVisibility 找不到可见的作用域上下文
	KindScopeVisibility
	// KindSyncResolution 在异步值上调用了同步解析
	KindSyncResolution
	// KindInvalidValue 非法的绑定值（例如把 Future 当作常量）
	KindInvalidValue
	// KindAmbiguousBinding 期望唯一匹配却得到多个
	KindAmbiguousBinding
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "Unknown",
	KindKeyNotBound:        "KeyNotBound",
	KindRebindLockedKey:    "RebindLockedKey",
	KindUnbindLockedKey:    "UnbindLockedKey",
	KindInvalidKeySyntax:   "InvalidKeySyntax",
	KindMissingDependency:  "MissingDependency",
	KindCircularDependency: "CircularDependency",
	KindTypeMismatch:       "TypeMismatch",
	KindScopeVisibility:    "ScopeVisibilityError",
	KindSyncResolution:     "SyncResolutionError",
	KindInvalidValue:       "InvalidValue",
	KindAmbiguousBinding:   "AmbiguousBinding",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// 哨兵错误，配合 errors.Is 使用：
//
//	if errors.Is(err, di.ErrKeyNotBound) { ... }
var (
	ErrKeyNotBound        = &Error{Kind: KindKeyNotBound}
	ErrRebindLockedKey    = &Error{Kind: KindRebindLockedKey}
	ErrUnbindLockedKey    = &Error{Kind: KindUnbindLockedKey}
	ErrInvalidKeySyntax   = &Error{Kind: KindInvalidKeySyntax}
	ErrMissingDependency  = &Error{Kind: KindMissingDependency}
	ErrCircularDependency = &Error{Kind: KindCircularDependency}
	ErrTypeMismatch       = &Error{Kind: KindTypeMismatch}
	ErrScopeVisibility    = &Error{Kind: KindScopeVisibility}
	ErrSyncResolution     = &Error{Kind: KindSyncResolution}
	ErrInvalidValue       = &Error{Kind: KindInvalidValue}
	ErrAmbiguousBinding   = &Error{Kind: KindAmbiguousBinding}
)

// Error 容器产生的所有错误
type Error struct {
	Kind    ErrorKind
	Key     string
	Message string
	Cause   error
}

func newError(kind ErrorKind, key string, format string, args ...any) *Error {
	return &Error{Kind: kind, Key: key, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("di: %s: %v", msg, e.Cause)
	}
	return "di: " + msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按 Kind 匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithCause 附加底层错误
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// KindOf 返回错误链中第一个 *Error 的类别
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

func keyNotBound(key string, c *Context) *Error {
	return newError(KindKeyNotBound, key, "the key '%s' is not bound to any value in context %s", key, c.Name())
}
