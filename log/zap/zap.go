// Package zap adapts a zap logger to optcache.Logger.
package zap

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/optcache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct{ L *zap.Logger }

var _ optcache.Logger = ZapLogger{}

// New names the logger "optcache". A nil logger discards everything.
func New(l *zap.Logger) ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return ZapLogger{L: l.Named("optcache")}
}

func (z ZapLogger) Debug(msg string, f optcache.Fields) { z.log(zapcore.DebugLevel, msg, f) }
func (z ZapLogger) Info(msg string, f optcache.Fields)  { z.log(zapcore.InfoLevel, msg, f) }
func (z ZapLogger) Warn(msg string, f optcache.Fields)  { z.log(zapcore.WarnLevel, msg, f) }
func (z ZapLogger) Error(msg string, f optcache.Fields) { z.log(zapcore.ErrorLevel, msg, f) }

func (z ZapLogger) log(lvl zapcore.Level, msg string, f optcache.Fields) {
	ce := z.L.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(zf(f)...)
}

func zf(f optcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		switch v := v.(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case time.Duration:
			out = append(out, zap.Duration(k, v))
		case fmt.Stringer:
			out = append(out, zap.Stringer(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
