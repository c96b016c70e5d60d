package config

import (
    "os"

    "github.com/sirupsen/logrus"
)

// NewLogger builds the process logger.  Production emits JSON; every other
// environment gets human readable text.  Unknown levels fall back to info.
func NewLogger(env, level string) *logrus.Logger {
    l := logrus.New()
    l.SetOutput(os.Stdout)
    if env == "prod" {
        l.SetFormatter(&logrus.JSONFormatter{})
    } else {
        l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    }
    lvl, err := logrus.ParseLevel(level)
    if err != nil {
        lvl = logrus.InfoLevel
    }
    l.SetLevel(lvl)
    return l
}
