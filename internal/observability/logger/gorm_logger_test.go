package logger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	obscontext "github.com/smallbiznis/billingcore/internal/observability/context"
)

func observed(level string, slow time.Duration) (*SQLLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewSQLLogger(zap.New(core), SQLLogConfig{Level: level, SlowThreshold: slow}), logs
}

func statement(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestSQLLoggerTagsFailuresWithRunContext(t *testing.T) {
	l, logs := observed("warn", time.Second)
	ctx := obscontext.WithTenantID(obscontext.WithRunID(context.Background(), "run-7"), "42")

	l.Trace(ctx, time.Now(), statement("UPDATE invoices\n   SET status = 'FINALIZED' WHERE id = 1", 0), errors.New("connection reset"))

	entries := logs.FilterMessage("db.query.failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "db.sql", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-7", fields["run_id"])
	assert.Equal(t, "42", fields["tenant_id"])
	assert.Equal(t, "update", fields["statement"])
	assert.Equal(t, "UPDATE invoices SET status = 'FINALIZED' WHERE id = 1", fields["sql"])
}

func TestSQLLoggerQuietsTranslatedErrors(t *testing.T) {
	l, logs := observed("warn", time.Second)

	l.Trace(context.Background(), time.Now(), statement("SELECT * FROM subscriptions", 0), gorm.ErrRecordNotFound)
	l.Trace(context.Background(), time.Now(), statement("INSERT INTO invoices", 0), gorm.ErrDuplicatedKey)
	assert.Zero(t, logs.Len())

	l.LogMode(gormlogger.Info).Trace(context.Background(), time.Now(), statement("INSERT INTO invoices", 0), gorm.ErrDuplicatedKey)
	entries := logs.FilterMessage("db.query").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
}

func TestSQLLoggerWarnsOnSlowStatements(t *testing.T) {
	l, logs := observed("warn", 10*time.Millisecond)
	long := "SELECT * FROM invoices WHERE id IN (" + strings.Repeat("1,", 400) + "1)"

	l.Trace(context.Background(), time.Now(), statement("SELECT 1", 1), nil)
	assert.Zero(t, logs.Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), statement(long, 3), nil)
	entries := logs.FilterMessage("db.query.slow").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["rows"])
	assert.Len(t, fields["sql"], maxLoggedSQL+3)
	assert.Equal(t, "select", fields["statement"])
}

func TestSQLLoggerLevels(t *testing.T) {
	l, logs := observed("silent", time.Millisecond)
	l.Trace(context.Background(), time.Now().Add(-time.Second), statement("DELETE FROM usage_events", 0), errors.New("boom"))
	assert.Zero(t, logs.Len())

	assert.Equal(t, gormlogger.Warn, parseSQLLevel("bogus"))
	assert.Equal(t, gormlogger.Info, parseSQLLevel("DEBUG"))
	assert.Equal(t, gormlogger.Error, parseSQLLevel(" error "))

	sql, params := l.ParamsFilter(context.Background(), "SELECT ?", "secret")
	assert.Equal(t, "SELECT ?", sql)
	assert.Nil(t, params)
}
