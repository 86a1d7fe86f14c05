package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gocrud/inject/config"
	"github.com/gocrud/inject/configure/database"
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Name string
}

type userRepository struct {
	Master *gorm.DB `inject:"database.dbs.master"`
	Slave  *gorm.DB `inject:"database.dbs.slave,optional"`
}

// DBConfig 用户定义的配置结构
type DBConfig struct {
	DSN          string `json:"dsn" validate:"required"`
	MaxOpenConns int    `json:"max_open_conns"`
}

func newApp(t *testing.T, dsn string, extra ...core.Configurator) core.Application {
	t.Helper()
	app, err := core.NewApplicationBuilder().
		DisableSignalHandling().
		ConfigureConfiguration(func(cb *config.ConfigurationBuilder) {
			cb.AddInMemory(map[string]any{
				"db": map[string]any{
					"master": map[string]any{"dsn": dsn, "max_open_conns": 1},
				},
			})
		}).
		Configure(database.Configure(func(b *database.Builder) {
			dbConf, err := config.Load[DBConfig](b.ConfigContext().GetConfiguration(), "db.master")
			if err != nil {
				b.Fail(err)
				return
			}
			b.Add("master", sqlite.Open(dbConf.DSN), func(o *database.DatabaseOptions) {
				o.MaxOpenConns = dbConf.MaxOpenConns
				o.AutoMigrate = []any{&User{}}
			})
		})).
		Configure(extra...).
		Build()
	require.NoError(t, err)
	return app
}

func TestDatabaseConfiguration(t *testing.T) {
	app := newApp(t, "file:config_test?mode=memory&cache=shared", func(ctx *core.BuildContext) {
		ctx.Context().MustBind("users").ToClass(di.TypeOf[*userRepository]())
	})

	repo, err := di.GetSync[*userRepository](app.Context(), "users")
	require.NoError(t, err)
	require.NotNil(t, repo.Master)
	assert.Nil(t, repo.Slave)

	sqlDB, err := repo.Master.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	require.NoError(t, repo.Master.Create(&User{Name: "test"}).Error)

	factory, err := di.GetSync[*database.DatabaseFactory](app.Context(), database.FactoryKey)
	require.NoError(t, err)
	db, err := factory.Get("master")
	require.NoError(t, err)
	assert.Same(t, repo.Master, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.RunAsync(ctx))
	assert.Error(t, sqlDB.Ping())
}

func TestMissingConfiguration(t *testing.T) {
	_, err := core.NewApplicationBuilder().
		ConfigureConfiguration(func(cb *config.ConfigurationBuilder) {
			cb.AddInMemory(map[string]any{"db": map[string]any{"replica": map[string]any{"max_open_conns": 2}}})
		}).
		Configure(database.Configure(func(b *database.Builder) {
			_, err := config.Load[DBConfig](b.ConfigContext().GetConfiguration(), "db.replica")
			b.Fail(err)
		})).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn: failed required")
}

func TestDatabaseBuilder_Errors(t *testing.T) {
	_, err := core.NewApplicationBuilder().
		Configure(database.Configure(func(b *database.Builder) {
			b.Add("invalid", nil, nil)
			b.Add("dup", sqlite.Open("file:a?mode=memory"), nil)
			b.Add("dup", sqlite.Open("file:b?mode=memory"), nil)
		})).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database dialector is required")
	assert.Contains(t, err.Error(), "database 'dup' already configured")
}

type accountService struct{}

var errRejected = errors.New("rejected")

func (s *accountService) Open(name string, tx *gorm.DB) (uint, error) {
	user := User{Name: name}
	if err := tx.Create(&user).Error; err != nil {
		return 0, err
	}
	if name == "mallory" {
		return 0, errRejected
	}
	return user.ID, nil
}

func TestTransactionInterceptor(t *testing.T) {
	di.Describe[*accountService]("accountService").
		Method("Open", (*accountService).Open, nil, di.Inject(database.TxKey)).
		Intercept(database.TransactionInterceptor("master"))

	app := newApp(t, "file:tx_test?mode=memory&cache=shared")
	db, err := database.Key("master").GetSync(app.Context())
	require.NoError(t, err)
	svc := &accountService{}

	id, err := di.InvokeMethod(svc, "Open", app.Context(), []any{"alice"}).Await(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = di.InvokeMethod(svc, "Open", app.Context(), []any{"mallory"}).Await(context.Background())
	assert.ErrorIs(t, err, errRejected)

	var count int64
	require.NoError(t, db.Model(&User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 事务只绑定在调用上下文中
	assert.False(t, app.Context().IsBound(database.TxKey))
}
