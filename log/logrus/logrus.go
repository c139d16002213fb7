// Package logrus adapts a logrus entry to optcache.Logger.
package logrus

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/optcache"
)

type LogrusLogger struct{ E *logrus.Entry }

var _ optcache.Logger = LogrusLogger{}

// New tags every line with component=optcache. A nil entry logs through the
// standard logrus logger.
func New(e *logrus.Entry) LogrusLogger {
	if e == nil {
		e = logrus.NewEntry(logrus.StandardLogger())
	}
	return LogrusLogger{E: e.WithField("component", "optcache")}
}

func (l LogrusLogger) Debug(msg string, f optcache.Fields) { l.log(logrus.DebugLevel, msg, f) }
func (l LogrusLogger) Info(msg string, f optcache.Fields)  { l.log(logrus.InfoLevel, msg, f) }
func (l LogrusLogger) Warn(msg string, f optcache.Fields)  { l.log(logrus.WarnLevel, msg, f) }
func (l LogrusLogger) Error(msg string, f optcache.Fields) { l.log(logrus.ErrorLevel, msg, f) }

func (l LogrusLogger) log(lvl logrus.Level, msg string, f optcache.Fields) {
	if !l.E.Logger.IsLevelEnabled(lvl) {
		return
	}
	e := l.E
	if len(f) > 0 {
		out := make(logrus.Fields, len(f))
		for k, v := range f {
			switch v := v.(type) {
			case error:
				if k == "err" {
					e = e.WithError(v)
					continue
				}
				out[k] = v.Error()
			case fmt.Stringer:
				out[k] = v.String()
			default:
				out[k] = v
			}
		}
		e = e.WithFields(out)
	}
	e.Log(lvl, msg)
}
