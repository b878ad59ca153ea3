package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// gormLog adapts gorm's logger to the service logger and records store
// metrics per statement.
type gormLog struct {
	log           logger.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newGormLog(l logger.Logger, slow time.Duration) *gormLog {
	return &gormLog{log: l, level: gormlogger.Warn, slowThreshold: slow}
}

func (g *gormLog) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *g
	c.level = level
	return &c
}

func (g *gormLog) Info(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Info {
		g.log.Info(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *gormLog) Warn(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *gormLog) Error(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Error {
		g.log.Error(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *gormLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	op := operation(sql)

	// A missing row and a unique violation are outcomes the callers handle.
	expected := err == nil || errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
	if expected {
		metrics.RecordStoreOperation(op, float64(elapsed.Milliseconds()), nil)
	} else {
		metrics.RecordStoreOperation(op, float64(elapsed.Milliseconds()), err)
	}

	switch {
	case !expected && g.level >= gormlogger.Error:
		g.log.Error(ctx, "query failed",
			logger.String("sql", sql),
			logger.Duration("took", elapsed),
			logger.Int64("rows", rows),
			logger.Error(err),
		)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		g.log.Warn(ctx, "slow query",
			logger.String("sql", sql),
			logger.Duration("took", elapsed),
			logger.Duration("threshold", g.slowThreshold),
		)
	case g.level >= gormlogger.Info:
		g.log.Debug(ctx, "query",
			logger.String("sql", sql),
			logger.Duration("took", elapsed),
			logger.Int64("rows", rows),
		)
	}
}

// operation returns the lower-cased SQL verb.
func operation(sql string) string {
	verb, _, _ := strings.Cut(strings.TrimSpace(sql), " ")
	switch v := strings.ToLower(verb); v {
	case "select", "insert", "update", "delete":
		return v
	default:
		return "other"
	}
}
