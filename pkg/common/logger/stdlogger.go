package logger

import (
	"context"
	"log"
)

// stdLogger adapts a Logger to the standard library log.Logger so it can be
// handed to APIs that only accept the latter (e.g. http.Server.ErrorLog).
type stdLogger struct {
	logger *Logger
	level  Level
}

func newStdLogger(logger *Logger, level Level) *log.Logger {
	return log.New(&stdLogger{logger: logger, level: level}, "", 0)
}

// Write implements io.Writer, routing standard library log output through
// the structured logger at the configured level.
func (s *stdLogger) Write(p []byte) (n int, err error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}

	switch s.level {
	case LevelDebug:
		s.logger.Debugc(context.Background(), 5, msg)
	case LevelWarn:
		s.logger.Warnc(context.Background(), 5, msg)
	case LevelError:
		s.logger.Errorc(context.Background(), 5, msg)
	default:
		s.logger.Infoc(context.Background(), 5, msg)
	}

	return len(p), nil
}
