// Package httpclient настраивает HTTP-клиент с повторами для обращений к внешним сервисам.
package httpclient

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// New создаёт клиент с ограниченным числом повторов и общим таймаутом на попытку.
func New(timeout time.Duration, retries int, logger *zap.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	if logger != nil {
		c.Logger = leveledLogger{logger.Sugar()}
	} else {
		c.Logger = nil
	}
	return c
}

// leveledLogger адаптирует zap к интерфейсу retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) { l.s.Errorw(msg, keysAndValues...) }
func (l leveledLogger) Info(msg string, keysAndValues ...interface{})  { l.s.Infow(msg, keysAndValues...) }
func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }
func (l leveledLogger) Warn(msg string, keysAndValues ...interface{})  { l.s.Warnw(msg, keysAndValues...) }
