package renderer

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-frame/engine/renderer/headless"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger sets the logger for the renderer backends, including the headless device.
// Backend bring-up is logged at [slog.LevelInfo], fallbacks at [slog.LevelWarn] and swapchain
// recreation at [slog.LevelDebug]. Pass nil to disable logging.
func SetLogger(l *slog.Logger) {
	headless.SetLogger(l)
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

func slogger() *slog.Logger { return loggerPtr.Load() }
