// +build !linux

package run

import (
	"github.com/sirupsen/logrus"
)

func AddSyslogHooks(flags *Flags) {
	logrus.Warn("Not on linux, cannot add syslog hooks")
}
