package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// defaultSlowQuery queries slower than this are logged as warnings
const defaultSlowQuery = 200 * time.Millisecond

// sqlLogger routes GORM logging through apex/log
type sqlLogger struct {
	logTags   log.Fields
	level     logger.LogLevel
	slowQuery time.Duration
}

func newSQLLogger(logTags log.Fields, level logger.LogLevel) logger.Interface {
	return &sqlLogger{logTags: logTags, level: level, slowQuery: defaultSlowQuery}
}

func (l *sqlLogger) LogMode(level logger.LogLevel) logger.Interface {
	updated := *l
	updated.level = level
	return &updated
}

func (l *sqlLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		log.WithFields(l.logTags).Info(fmt.Sprintf(msg, args...))
	}
}

func (l *sqlLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		log.WithFields(l.logTags).Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *sqlLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		log.WithFields(l.logTags).Error(fmt.Sprintf(msg, args...))
	}
}

func (l *sqlLogger) Trace(
	_ context.Context, begin time.Time, fc func() (string, int64), err error,
) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	entry := func() *log.Entry {
		sql, rows := fc()
		return log.WithFields(l.logTags).
			WithField("elapsed", elapsed.String()).
			WithField("rows", rows).
			WithField("sql", sql)
	}
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		entry().WithError(err).Error("SQL failed")
	case elapsed > l.slowQuery && l.level >= logger.Warn:
		entry().Warn("Slow SQL")
	case l.level >= logger.Info:
		entry().Debug("SQL")
	}
}

// ParamsFilter drop bound values so ciphertexts and key hashes stay out of the logs
func (l *sqlLogger) ParamsFilter(
	_ context.Context, sql string, _ ...interface{},
) (string, []interface{}) {
	return sql, nil
}
