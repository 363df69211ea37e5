package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the store logger.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
	// Base overrides the logger used when the statement context carries none.
	Base *zap.Logger
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

// GormLogger routes gorm output through zap so statements pick up the
// request_id and trace fields of the calling request. Bound parameters are
// never logged: most tables here hold credential digests.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < min {
		return
	}
	ce := l.logger(ctx).Check(level, "gorm.message")
	if ce == nil {
		return
	}
	ce.Write(zap.String("component", "gorm"), zap.String("detail", fmt.Sprintf(msg, data...)))
}

// Trace classifies each statement as failed, slow or routine.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var level zapcore.Level
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error && !l.ignored(err):
		level = zapcore.ErrorLevel
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		level = zapcore.WarnLevel
	case l.cfg.Level >= gormlogger.Info:
		level = zapcore.DebugLevel
	default:
		return
	}

	ce := l.logger(ctx).Check(level, "gorm.query")
	if ce == nil {
		return
	}
	sql, rows := fc()
	stmt := describeStatement(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if level == zapcore.WarnLevel {
		fields = append(fields, zap.Int64("slow_threshold_ms", l.cfg.SlowThreshold.Milliseconds()))
	}
	if level == zapcore.DebugLevel {
		fields = append(fields, zap.String("sql", stmt.text))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter keeps placeholders in the rendered SQL.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) ignored(err error) bool {
	return l.cfg.IgnoreRecordNotFound && errors.Is(err, gormlogger.ErrRecordNotFound)
}

func (l *GormLogger) logger(ctx context.Context) *zap.Logger {
	base := l.cfg.Base
	if base == nil {
		base = zap.L()
	}
	return WithContext(ctx, base)
}

type statement struct {
	operation string
	table     string
	text      string
}

func describeStatement(sql string) statement {
	text := strings.Join(strings.Fields(sql), " ")
	stmt := statement{operation: "UNKNOWN", text: text}
	tokens := strings.Fields(text)

verbs:
	for _, token := range tokens {
		switch verb := strings.ToUpper(strings.Trim(token, "();")); verb {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			stmt.operation = verb
			break verbs
		}
	}
	for i, token := range tokens {
		switch strings.ToUpper(token) {
		case "FROM", "INTO", "UPDATE":
			if i+1 < len(tokens) {
				stmt.table = strings.Trim(tokens[i+1], "`\"();")
				return stmt
			}
		}
	}
	return stmt
}

var _ gormlogger.Interface = (*GormLogger)(nil)
