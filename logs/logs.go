package logs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/config"
)

// New creates the application logger. With a log file configured, output is appended to it
// and the returned closer closes it.
func New(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level := logrus.InfoLevel
	if cfg.Log.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(cfg.Log.Level); err != nil {
			return nil, nil, errors.Wrap(err, "couldn't parse log level")
		}
	}
	logger.SetLevel(level)

	path := cfg.LogPath()
	if path == "" {
		logger.SetOutput(os.Stderr)
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, errors.Wrap(err, "couldn't create log directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't open log file")
	}
	logger.SetOutput(f)
	return logger, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}
