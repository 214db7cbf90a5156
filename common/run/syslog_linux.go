package run

import (
	"log/syslog"

	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

func AddSyslogHooks(flags *Flags) {
	logrus.Println("Adding syslog hook")

	appName := flags.LogAppName
	if flags.NodeID != "" {
		appName = flags.NodeID
	}

	hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_DAEMON, appName)
	if err != nil {
		logrus.WithError(err).Println("failed initializing syslog hook")
		return
	}

	logrus.AddHook(hook)
}
