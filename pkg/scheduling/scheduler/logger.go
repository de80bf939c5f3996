package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vnykmshr/taskchain/pkg/logger"
)

// cronLogger adapts a logger.Logger to cron's key/value logger.
type cronLogger struct {
	log logger.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
