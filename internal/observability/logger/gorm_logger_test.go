package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(level gormlogger.LogLevel) (*GormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewGormLogger(GormLoggerConfig{
		Level:                level,
		SlowThreshold:        50 * time.Millisecond,
		IgnoreRecordNotFound: true,
		Base:                 zap.New(core),
	}), logs
}

func TestGormTraceClassifiesStatements(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Warn)
	query := func() (string, int64) {
		return `SELECT * FROM "oauth_refresh_tokens" WHERE token_hash = ?`, 1
	}

	l.Trace(context.Background(), time.Now(), query, nil)
	assert.Equal(t, 0, logs.Len(), "fast statements stay below warn")

	l.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.Len())
	slow := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, slow.Level)
	fields := slow.ContextMap()
	assert.Equal(t, "SELECT", fields["operation"])
	assert.Equal(t, "oauth_refresh_tokens", fields["table"])
	assert.Equal(t, int64(50), fields["slow_threshold_ms"])
	assert.NotContains(t, fields, "sql")

	l.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
}

func TestGormTraceIncludesSQLAtInfo(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Info)

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "UPDATE users\n   SET active = ?", 3
	}, nil)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "UPDATE users SET active = ?", fields["sql"])
	assert.Equal(t, int64(3), fields["rows_affected"])
}

func TestGormLogModeSilences(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Info)
	silent := l.LogMode(gormlogger.Silent)

	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, errors.New("x"))
	silent.Error(context.Background(), "failed %s", "x")
	l.Info(context.Background(), "connected to %s", "sqlite")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "connected to sqlite", logs.All()[0].ContextMap()["detail"])
}

func TestDescribeStatement(t *testing.T) {
	stmt := describeStatement(`DELETE FROM "sessions" WHERE id = ?`)
	assert.Equal(t, "DELETE", stmt.operation)
	assert.Equal(t, "sessions", stmt.table)

	stmt = describeStatement(`INSERT INTO audit_logs (id) VALUES (?)`)
	assert.Equal(t, "INSERT", stmt.operation)
	assert.Equal(t, "audit_logs", stmt.table)

	assert.Equal(t, "UNKNOWN", describeStatement("  ").operation)
}
