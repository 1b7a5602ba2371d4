/*
Copyright © 2020 Marvin

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package logger

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronLogger reports the route, push, pull and purge job scheduler through zap
type CronLogger struct {
	s *zap.SugaredLogger
}

func NewCronLogger(l *zap.Logger) cron.Logger {
	return &CronLogger{s: l.WithOptions(zap.AddCallerSkip(1)).With(zap.String("component", "cron")).Sugar()}
}

// Info is logged at debug level, the scheduler reports every job wakeup
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.s.Debugw(msg, keysAndValues...)
}

func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
