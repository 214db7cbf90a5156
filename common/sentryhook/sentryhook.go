// Package sentryhook forwards error level log entries to sentry
package sentryhook

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

type Hook struct {
	// Hub entries are reported to, the current hub if nil
	Hub *sentry.Hub
}

func (hook Hook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.ErrorLevel,
		logrus.FatalLevel,
		logrus.PanicLevel,
	}
}

func (hook Hook) Fire(entry *logrus.Entry) error {
	hub := hook.Hub
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub = hub.Clone()

	hub.WithScope(func(s *sentry.Scope) {
		s.SetLevel(sentryLevel(entry.Level))

		for k, v := range entry.Data {
			strV := fmt.Sprint(v)
			switch k {
			case "p":
				s.SetTag("package", strV)
			case "shard":
				s.SetTag("shard", strV)
			case "stck", logrus.ErrorKey:
			default:
				s.SetExtra(k, strV)
			}
		}

		if err, ok := entry.Data[logrus.ErrorKey].(error); ok {
			s.SetExtra("message", entry.Message)
			hub.CaptureException(err)
		} else {
			hub.CaptureMessage(entry.Message)
		}
	})

	return nil
}

func sentryLevel(level logrus.Level) sentry.Level {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return sentry.LevelFatal
	case logrus.WarnLevel:
		return sentry.LevelWarning
	case logrus.InfoLevel:
		return sentry.LevelInfo
	case logrus.DebugLevel, logrus.TraceLevel:
		return sentry.LevelDebug
	}
	return sentry.LevelError
}
