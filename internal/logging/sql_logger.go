package logging

import (
	"context"

	sqldblogger "github.com/simukti/sqldb-logger"
	log "github.com/sirupsen/logrus"
)

type sqlLogger struct {
	entry *log.Entry
}

// NewSQLLogger адаптирует logrus к sqldb-logger: каждый SQL-запрос пишется
// с длительностью и текстом запроса в полях записи.
func NewSQLLogger(entry *log.Entry) sqldblogger.Logger {
	if entry == nil {
		entry = log.WithField("component", "sql")
	}
	return &sqlLogger{entry: entry}
}

func (l *sqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	entry := l.entry.WithFields(data)

	switch level {
	case sqldblogger.LevelError:
		entry.Error(msg)
	case sqldblogger.LevelInfo:
		entry.Info(msg)
	case sqldblogger.LevelDebug:
		entry.Debug(msg)
	default:
		entry.Trace(msg)
	}
}
