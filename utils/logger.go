package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// SetupLogger configures the standard logrus logger: JSON in production,
// full-timestamp text elsewhere.
func SetupLogger(appEnv, level string) {
	if appEnv == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("Unknown LOG_LEVEL, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
