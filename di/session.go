package di

import (
	"fmt"
	"strings"
)

type sessionElement struct {
	binding   *Binding
	injection *Injection
}

// ResolutionSession 记录一次顶层解析中正在解析的绑定和注入点。
// 解析分叉时（每个注入参数/属性）使用 Fork 得到独立副本。
type ResolutionSession struct {
	stack []sessionElement
}

// NewResolutionSession 创建空会话
func NewResolutionSession() *ResolutionSession {
	return &ResolutionSession{}
}

// Fork 复制当前栈
func (s *ResolutionSession) Fork() *ResolutionSession {
	if s == nil {
		return NewResolutionSession()
	}
	stack := make([]sessionElement, len(s.stack), len(s.stack)+4)
	copy(stack, s.stack)
	return &ResolutionSession{stack: stack}
}

func (s *ResolutionSession) pushBinding(b *Binding) error {
	for _, e := range s.stack {
		if e.binding == b {
			bindingPath := s.BindingPath() + " --> " + b.Key()
			resolutionPath := s.ResolutionPath() + " --> " + b.Key()
			return newError(KindCircularDependency, b.Key(),
				"circular dependency detected: %s (resolution path: %s)", bindingPath, resolutionPath)
		}
	}
	s.stack = append(s.stack, sessionElement{binding: b})
	return nil
}

func (s *ResolutionSession) popBinding() {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].binding != nil {
			s.stack = s.stack[:i]
			return
		}
	}
}

func (s *ResolutionSession) pushInjection(inj *Injection) {
	s.stack = append(s.stack, sessionElement{injection: inj})
}

func (s *ResolutionSession) popInjection() {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].injection != nil {
			s.stack = s.stack[:i]
			return
		}
	}
}

// CurrentBinding 返回栈中最近的绑定
func (s *ResolutionSession) CurrentBinding() *Binding {
	if s == nil {
		return nil
	}
	for i := len(s.stack) - 1; i >= 0; i-- {
		if b := s.stack[i].binding; b != nil {
			return b
		}
	}
	return nil
}

// CurrentInjection 返回栈中最近的注入点
func (s *ResolutionSession) CurrentInjection() *Injection {
	if s == nil {
		return nil
	}
	for i := len(s.stack) - 1; i >= 0; i-- {
		if inj := s.stack[i].injection; inj != nil {
			return inj
		}
	}
	return nil
}

// Bindings 返回绑定栈（从根到叶）
func (s *ResolutionSession) Bindings() []*Binding {
	var out []*Binding
	for _, e := range s.stack {
		if e.binding != nil {
			out = append(out, e.binding)
		}
	}
	return out
}

// BindingPath 例如 "a --> b"
func (s *ResolutionSession) BindingPath() string {
	parts := make([]string, 0, len(s.stack))
	for _, e := range s.stack {
		if e.binding != nil {
			parts = append(parts, e.binding.Key())
		}
	}
	return strings.Join(parts, " --> ")
}

// ResolutionPath 绑定与注入点交替出现，例如 "a --> @A.constructor[0] --> b"
func (s *ResolutionSession) ResolutionPath() string {
	parts := make([]string, 0, len(s.stack))
	for _, e := range s.stack {
		if e.binding != nil {
			parts = append(parts, e.binding.Key())
		} else {
			parts = append(parts, "@"+e.injection.Target())
		}
	}
	return strings.Join(parts, " --> ")
}

func (s *ResolutionSession) String() string {
	return fmt.Sprintf("ResolutionSession(%s)", s.ResolutionPath())
}
