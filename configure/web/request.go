package web

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/inject/di"
)

const (
	// ControllerTag 控制器绑定的标签
	ControllerTag = "web.controller"
	// contextKey gin.Context 中保存请求 di 上下文的键
	contextKey = "inject.context"
)

// RequestKey 当前请求的 *gin.Context，绑定在每个请求的上下文中
var RequestKey = di.NewKey[*gin.Context]("web.request")

var ginContextType = reflect.TypeOf((*gin.Context)(nil))

// Controller 控制器接口
type Controller interface {
	RegisterRoutes(router gin.IRouter)
}

// RequestScope 为每个请求创建 Request 作用域的子上下文，请求结束后关闭
func RequestScope(server *di.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx := server.NewChild("", di.WithScope(di.ScopeRequest))
		defer reqCtx.Close()
		reqCtx.MustBind(RequestKey.Key()).To(c)
		c.Set(contextKey, reqCtx)
		c.Next()
	}
}

// FromContext 取出请求的 di 上下文，未经过 RequestScope 时返回 nil
func FromContext(c *gin.Context) *di.Context {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	reqCtx, _ := v.(*di.Context)
	return reqCtx
}

// HTTPError 带状态码的错误，由 Invoke 写入响应
type HTTPError struct {
	Status int
	Err    error
}

// NewHTTPError 创建带状态码的错误
func NewHTTPError(status int, err error) *HTTPError {
	return &HTTPError{Status: status, Err: err}
}

func (e *HTTPError) Error() string { return e.Err.Error() }

func (e *HTTPError) Unwrap() error { return e.Err }

// Invoke 返回处理函数：从请求上下文解析 key，调用其 method 方法（经过拦截器）
// 方法的第一个参数是 *gin.Context 时自动传入，返回值非 nil 且未写响应时输出 JSON
//
//	b.Get("/users/:id", web.Invoke("handlers.user", "Find"))
func Invoke(key, method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx := FromContext(c)
		if reqCtx == nil {
			abort(c, errors.New("request scope is not installed"))
			return
		}

		target, err := reqCtx.Get(c.Request.Context(), key)
		if err != nil {
			abort(c, err)
			return
		}

		var args []any
		if m := reflect.ValueOf(target).MethodByName(method); m.IsValid() &&
			m.Type().NumIn() > 0 && m.Type().In(0) == ginContextType {
			args = []any{c}
		}
		v, err := di.InvokeMethod(target, method, reqCtx, args).Await(c.Request.Context())
		if err != nil {
			abort(c, err)
			return
		}
		if v == nil || c.Writer.Written() {
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Status
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
