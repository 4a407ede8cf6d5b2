// Package logging wraps logrus the way the rest of the stack expects a
// per-component logger: a named *logrus.Entry obtained once at package
// init and reused, matching the "logger.Infof(...)" call sites seen
// across the codebase this was grown from.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// For returns a component-scoped logger, e.g. logging.For("risk_manager").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// SetLevel overrides the base logger's level, used by the admin API's
// runtime log-level endpoint.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}
