// Package log holds the process-wide logger. The level is taken from the
// LOG_LEVEL environment variable and defaults to info.
package log

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
)

var root hclog.Logger = hclog.NewNullLogger()

func Init() {
	level := hclog.LevelFromString(os.Getenv("LOG_LEVEL"))
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	root = hclog.New(&hclog.LoggerOptions{
		Name:  "fireengine",
		Level: level,
	})
	hclog.SetDefault(root)
}

// Named returns a sub-logger for a component.
func Named(name string) hclog.Logger {
	return root.Named(name)
}

func Debug(format string, args ...any) {
	root.Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	root.Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...any) {
	root.Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	root.Error(fmt.Sprintf(format, args...))
}
