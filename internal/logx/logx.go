// Package logx configures the process-wide logrus logger.
package logx

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup sets the global logrus level and formatter. Unknown levels fall back
// to info; format "text" selects the text formatter, anything else JSON.
func Setup(level, format string) {
	logrus.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
}
