package di

// InterceptedProxy 包装一个实例，所有 Call 都经过拦截器链
type InterceptedProxy struct {
	target any
	c      *Context
}

// NewInterceptedProxy 创建代理；拦截器与方法参数在 c 的子上下文中解析
func NewInterceptedProxy(target any, c *Context) *InterceptedProxy {
	if p, ok := target.(*InterceptedProxy); ok {
		return p
	}
	return &InterceptedProxy{target: target, c: c}
}

// Target 被代理的实例
func (p *InterceptedProxy) Target() any {
	return p.target
}

// Call 经拦截器链调用方法
func (p *InterceptedProxy) Call(method string, args ...any) Result {
	return InvokeMethod(p.target, method, p.c, args)
}
