package run

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/botlabs-gg/dgateway/common/sentryhook"
	"github.com/getsentry/sentry-go"
	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

// ContextHook records the calling function, file and line as "stck"
type ContextHook struct{}

func (hook ContextHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hook ContextHook) Fire(entry *logrus.Entry) error {
	// Skip if already provided
	if _, ok := entry.Data["stck"]; ok {
		return nil
	}

	pc := make([]uintptr, 8)
	cnt := runtime.Callers(6, pc)

	for i := 0; i < cnt; i++ {
		fu := runtime.FuncForPC(pc[i] - 1)
		if fu == nil {
			continue
		}

		name := fu.Name()
		if !strings.Contains(name, "github.com/sirupsen/logrus") {
			file, line := fu.FileLine(pc[i] - 1)

			entry.Data["stck"] = filepath.Base(name) + ":" + filepath.Base(file) + ":" + strconv.Itoa(line)
			break
		}
	}
	return nil
}

func setupLogging(flags *Flags) {
	logrus.AddHook(ContextHook{})

	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: !flags.LogTimestamp,
		SortingFunc:      logrusSortingFunc,
	})

	if flags.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if flags.LogFile != "" {
		logrus.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   flags.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		}))
	}

	if flags.Syslog {
		AddSyslogHooks(flags)
	}
}

func addSentryHook(dsn, nodeID string) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn: dsn,
	})

	if err != nil {
		logrus.WithError(err).Error("Failed adding sentry hook")
		return
	}

	sentry.ConfigureScope(func(s *sentry.Scope) {
		if nodeID != "" {
			s.SetTag("node_id", nodeID)
		}
	})

	logrus.AddHook(sentryhook.Hook{})
	logrus.Info("Added Sentry Hook")
}

var logSortPriority = []string{
	"time",
	"level",
	"p",
	"msg",
	"stck",
}

func logrusSortingFunc(fields []string) {
	sort.SliceStable(fields, func(i, j int) bool {
		iPriority := findStringIndex(logSortPriority, fields[i])
		jPriority := findStringIndex(logSortPriority, fields[j])

		if iPriority != -1 && jPriority == -1 {
			return true
		} else if jPriority != -1 && iPriority == -1 {
			return false
		} else if iPriority == -1 && jPriority == -1 {
			return fields[i] < fields[j]
		}

		// both has priority
		return iPriority < jPriority
	})
}

func findStringIndex(slice []string, s string) int {
	for i, v := range slice {
		if v == s {
			return i
		}
	}

	return -1
}
