package core

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger intended to be used for general application logs.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	logLvl, err := logrus.ParseLevel(cfg.Logging.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	var w io.Writer = os.Stdout
	if cfg.Logging.LogFilePath != "" {
		w, err = os.OpenFile(cfg.Logging.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
	}

	return &logrus.Logger{
		Out: w,
		Formatter: &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableSorting:  true,
		},
		Hooks:    make(logrus.LevelHooks),
		Level:    logLvl,
		ExitFunc: os.Exit,
	}, nil
}

// CloseLogger closes the log file opened by NewLogger, if there is one.
func CloseLogger(logger *logrus.Logger) error {
	f, ok := logger.Out.(*os.File)
	if !ok || f == os.Stdout || f == os.Stderr {
		return nil
	}
	return f.Close()
}
