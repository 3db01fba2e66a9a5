package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

func init() {
	log = logrus.New()
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		log.SetLevel(logrus.DebugLevel)
	case "WARN":
		log.SetLevel(logrus.WarnLevel)
	case "ERROR":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// Get returns the shared logger instance
func Get() *logrus.Logger {
	return log
}

// Execution returns an entry tagged with the execution and subject it concerns.
func Execution(executionID, subjectID string) *logrus.Entry {
	fields := logrus.Fields{}
	if executionID != "" {
		fields["execution_id"] = executionID
	}
	if subjectID != "" {
		fields["subject_id"] = subjectID
	}
	return log.WithFields(fields)
}
