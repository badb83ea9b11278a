package badgerstore

import (
	"github.com/sirupsen/logrus"
)

// badgerLogger routes badger's own logging into the application logger.
// Badger's info messages are frequent, so they are logged at debug level.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func newBadgerLogger(logger logrus.FieldLogger) *badgerLogger {
	return &badgerLogger{
		logger: logger.WithField("component", "badger"),
	}
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Errorf(format, args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warningf(format, args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Debugf(format, args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Debugf(format, args...)
}
