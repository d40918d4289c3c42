package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// zerologWriter routes gorm's log lines into the global zerolog logger
type zerologWriter struct {
	level zerolog.Level
}

func (w zerologWriter) Printf(format string, args ...any) {
	log.WithLevel(w.level).Str("component", "gorm").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// newGormLogger maps the application log level onto gorm's. SQL is traced
// only at debug; lookups that find nothing are never logged.
func newGormLogger(appLevel string) logger.Interface {
	gormLevel, zlevel := logger.Warn, zerolog.WarnLevel
	switch strings.ToLower(strings.TrimSpace(appLevel)) {
	case "debug":
		gormLevel, zlevel = logger.Info, zerolog.DebugLevel
	case "error":
		gormLevel, zlevel = logger.Error, zerolog.ErrorLevel
	}

	return logger.New(zerologWriter{level: zlevel}, logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
