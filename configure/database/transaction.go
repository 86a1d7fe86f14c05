package database

import (
	"context"
	"fmt"

	"github.com/gocrud/inject/di"
	"gorm.io/gorm"
)

// TxKey 事务拦截器在调用上下文中绑定当前事务的 key
const TxKey = "database.tx"

// TransactionInterceptor 在数据库 name 上开启事务执行目标方法。
// 事务以 TxKey 绑定在调用上下文中，方法参数可以通过 di.Inject(database.TxKey) 注入；
// 方法返回错误时回滚。
//
//	di.Describe[*OrderService]("OrderService").
//		Method("Place", (*OrderService).Place, nil, di.Inject(database.TxKey)).
//		Intercept(database.TransactionInterceptor("default"))
func TransactionInterceptor(name string) di.Interceptor {
	dbKey := Key(name).Key()
	return func(ic *di.InvocationContext, next di.Next) di.Result {
		return ic.GetValueOrPromise(dbKey).Then(func(v any) di.Result {
			db, ok := v.(*gorm.DB)
			if !ok {
				return di.Failed(fmt.Errorf("binding %s is %T, not *gorm.DB", dbKey, v))
			}
			return di.Async(func() (any, error) {
				var out any
				err := db.Transaction(func(tx *gorm.DB) error {
					ic.MustBind(TxKey).To(tx)
					value, err := next().Await(context.Background())
					out = value
					return err
				})
				if err != nil {
					return nil, err
				}
				return out, nil
			})
		})
	}
}
