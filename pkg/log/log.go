// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"io"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	rootLogger = logrus.NewEntry(logrus.StandardLogger())

	// L accesses the current logger from the context
	L = loggerFromContext

	initialized atomic.Bool
)

type ctxLogKey struct{}

const maxFieldLength = 61

func InitConfig(conf *nahmiiconf.LogConfig) {
	initialized.Store(true)
	defs := nahmiiconf.LogDefaults

	SetLevel(confutil.StringNotEmpty(conf.Level, *defs.Level))
	logrus.SetOutput(buildOutput(conf))

	var formatter logrus.Formatter
	timeFormat := confutil.StringNotEmpty(conf.TimeFormat, *defs.TimeFormat)
	switch confutil.StringNotEmpty(conf.Format, *defs.Format) {
	case "json":
		formatter = &logrus.JSONFormatter{
			TimestampFormat: timeFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "@timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		}
	default:
		formatter = &prefixed.TextFormatter{
			DisableColors:   confutil.Bool(conf.DisableColor, *defs.DisableColor),
			TimestampFormat: timeFormat,
			ForceFormatting: true,
			FullTimestamp:   true,
		}
	}
	if confutil.Bool(conf.UTC, *defs.UTC) {
		formatter = &utcFormatter{f: formatter}
	}
	logrus.SetFormatter(formatter)
}

func buildOutput(conf *nahmiiconf.LogConfig) io.Writer {
	defs := nahmiiconf.LogDefaults
	switch confutil.StringNotEmpty(conf.Output, *defs.Output) {
	case "file":
		filename := confutil.StringNotEmpty(conf.File.Filename, *defs.File.Filename)
		maxSize := confutil.ByteSize(conf.File.MaxSize, 0, *defs.File.MaxSize)
		maxAge := confutil.DurationMin(conf.File.MaxAge, 0, *defs.File.MaxAge)
		rootLogger.Infof("Logs diverted to %s", filename)
		return &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    int(math.Ceil(float64(maxSize) / 1024 / 1024)),
			MaxAge:     int(math.Ceil(maxAge.Hours() / 24)),
			MaxBackups: confutil.IntMin(conf.File.MaxBackups, 0, *defs.File.MaxBackups),
			Compress:   confutil.Bool(conf.File.Compress, *defs.File.Compress),
		}
	case "stdout":
		return os.Stdout
	default:
		return os.Stderr
	}
}

func ensureInit() {
	if !initialized.Load() {
		InitConfig(&nahmiiconf.LogConfig{})
	}
}

// WithLogger adds the specified logger to the context
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	ensureInit()
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField adds a field to the context logger, truncating long values
func WithLogField(ctx context.Context, key, value string) context.Context {
	if len(value) > maxFieldLength {
		value = value[0:maxFieldLength] + "..."
	}
	return WithLogger(ctx, loggerFromContext(ctx).WithField(key, value))
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(ctxLogKey{}).(*logrus.Entry); ok {
		return logger
	}
	return rootLogger
}

func IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}

func IsTraceEnabled() bool {
	return logrus.IsLevelEnabled(logrus.TraceLevel)
}

// SetLevel falls back to info for unknown level names
func SetLevel(level string) {
	l, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		l = logrus.InfoLevel
	}
	logrus.SetLevel(l)
}

func GetLevel() string {
	return logrus.GetLevel().String()
}

type utcFormatter struct {
	f logrus.Formatter
}

func (u *utcFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.f.Format(e)
}

// Since returns a millisecond figure suitable for log lines
func Since(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
