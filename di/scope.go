package di

// GetScopeOwner 返回最近的（含自身）带有指定作用域标记的上下文
func (c *Context) GetScopeOwner(scope BindingScope) *Context {
	if scope < ScopeApplication {
		return nil
	}
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if ctx.scope == scope {
			return ctx
		}
	}
	return nil
}

// IsVisibleTo 判断 other 是否为 c 自身或 c 的祖先
func (c *Context) IsVisibleTo(other *Context) bool {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if ctx == other {
			return true
		}
	}
	return false
}

// ownerOf 返回链上登记了该绑定实例的上下文
func (c *Context) ownerOf(b *Binding) *Context {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		ctx.mu.RLock()
		reg, ok := ctx.registry[b.Key()]
		ctx.mu.RUnlock()
		if ok && reg.binding == b {
			return ctx
		}
	}
	return nil
}

// GetResolutionContext 按绑定作用域选出缓存所在的上下文
//
//	Transient/Context       -> c
//	Singleton               -> 拥有该绑定的上下文
//	Request                 -> 最近的 Request 上下文，找不到则退回 c
//	Application/Server      -> 最近的同名作用域上下文，找不到则报 ScopeVisibilityError
//
// 绑定的所属上下文必须对选出的上下文可见，否则 Request 退回 c，其余报错。
func (c *Context) GetResolutionContext(b *Binding) (*Context, error) {
	scope := b.Scope()
	switch scope {
	case ScopeTransient, ScopeContext:
		return c, nil
	case ScopeSingleton:
		if owner := c.ownerOf(b); owner != nil {
			return owner, nil
		}
		return c, nil
	}

	target := c.GetScopeOwner(scope)
	if target == nil {
		if scope == ScopeRequest {
			return c, nil
		}
		return nil, newError(KindScopeVisibility, b.Key(),
			"binding '%s' in %s scope cannot be resolved from context %s: no ancestor context is tagged with scope %s",
			b.Key(), scope, c.Name(), scope)
	}

	if owner := c.ownerOf(b); owner != nil && !target.IsVisibleTo(owner) {
		if scope == ScopeRequest {
			return c, nil
		}
		return nil, newError(KindScopeVisibility, b.Key(),
			"binding '%s' is owned by context %s which is not visible to the %s scope context %s",
			b.Key(), owner.Name(), scope, target.Name())
	}
	return target, nil
}
