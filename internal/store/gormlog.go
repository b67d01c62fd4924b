package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vnsid/vnsid/internal/logger"
)

const slowQuery = 200 * time.Millisecond

// gormLogger routes GORM's query log into the service logger.
type gormLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
}

func newGormLogger(log logger.Logger) *gormLogger {
	return &gormLogger{log: log, level: gormlogger.Warn}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{log: l.log, level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.WithError(err).WithFields(logger.Fields{
			"sql":      sql,
			"rows":     rows,
			"duration": elapsed.String(),
		}).Error("Query failed")
	case elapsed > slowQuery && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.WithFields(logger.Fields{
			"sql":      sql,
			"rows":     rows,
			"duration": elapsed.String(),
		}).Warn("Slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.WithFields(logger.Fields{
			"sql":  sql,
			"rows": rows,
		}).Debug("Query")
	}
}
