package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	tests := []struct {
		sql       string
		operation string
		table     string
	}{
		{sql: `SELECT * FROM "identity_keys" WHERE "key" = $1 LIMIT 1`, operation: "SELECT", table: "identity_keys"},
		{sql: "INSERT INTO `identity_keys` (`id`,`key`) VALUES (?,?)", operation: "INSERT", table: "identity_keys"},
		{sql: `UPDATE "identity_keys" SET "revoked_at"=$1 WHERE id = $2`, operation: "UPDATE", table: "identity_keys"},
		{sql: `DELETE FROM "identity_keys" WHERE "id" = $1`, operation: "DELETE", table: "identity_keys"},
		{sql: "", operation: "UNKNOWN", table: ""},
	}

	for _, tt := range tests {
		operation, table := describeSQL(tt.sql)
		assert.Equal(t, tt.operation, operation, tt.sql)
		assert.Equal(t, tt.table, table, tt.sql)
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), DefaultGormLoggerConfig())
	ctx := context.Background()
	sql := func() (string, int64) { return `SELECT * FROM "identity_keys" WHERE "key" = $1`, 0 }

	l.Trace(ctx, time.Now(), sql, nil)
	assert.Equal(t, 0, logs.Len(), "fast successful queries are quiet at warn")

	l.Trace(ctx, time.Now(), sql, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	l.Trace(ctx, time.Now(), sql, errors.New("connection refused"))
	entries := logs.TakeAll()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		fields := entries[0].ContextMap()
		assert.Equal(t, "SELECT", fields["operation"])
		assert.Equal(t, "identity_keys", fields["table"])
		assert.NotContains(t, fields, "sql")
	}

	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	entries = logs.TakeAll()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	}

	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), sql, errors.New("boom"))
	assert.Equal(t, 0, logs.Len())
}

func TestGormLoggerParamsFilter(t *testing.T) {
	l := NewGormLogger(nil, DefaultGormLoggerConfig())
	sql, params := l.ParamsFilter(context.Background(), "SELECT 1 WHERE key = ?", "WSKsecret")
	assert.Equal(t, "SELECT 1 WHERE key = ?", sql)
	assert.Nil(t, params)
}
