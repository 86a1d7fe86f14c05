package core

import (
	"github.com/gocrud/inject/config"
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/logging"
)

// 应用根上下文中预先绑定的 key，均为锁定的常量绑定
var (
	ConfigurationKey = di.NewKey[config.Configuration]("core.configuration")
	LoggerFactoryKey = di.NewKey[logging.LoggerFactory]("core.loggerFactory")
	LoggerKey        = di.NewKey[logging.Logger]("core.logger")
	EnvironmentKey   = di.NewKey[Environment]("core.environment")
	LifecycleKey     = di.NewKey[*LifecycleEvents]("core.lifecycle")
)

// OptionKey Option[T] 的绑定 key："options.<section>"
func OptionKey[T any](section string) di.Key[config.Option[T]] {
	return di.NewKey[config.Option[T]]("options." + section)
}

// OptionMonitorKey OptionMonitor[T] 的绑定 key
func OptionMonitorKey[T any](section string) di.Key[config.OptionMonitor[T]] {
	return di.NewKey[config.OptionMonitor[T]]("options." + section + ".monitor")
}

// OptionSnapshotKey OptionSnapshot[T] 的绑定 key
func OptionSnapshotKey[T any](section string) di.Key[config.OptionSnapshot[T]] {
	return di.NewKey[config.OptionSnapshot[T]]("options." + section + ".snapshot")
}
