/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	golocalv1 "github.com/caiflower/httpcore/pkg/golocal/v1"
)

const (
	_trace = iota
	_debug
	_info
	_warn
	_error
	_fatal

	TraceLevel = "TRACE"
	DebugLevel = "DEBUG"
	InfoLevel  = "INFO"
	WarnLevel  = "WARN"
	ErrorLevel = "ERROR"
	FatalLevel = "FATAL"

	_timeFormat = "2006-01-02 15:04:05.000"
)

type ILog interface {
	Trace(text string, v ...interface{})
	Debug(text string, v ...interface{})
	Info(text string, v ...interface{})
	Warn(text string, v ...interface{})
	Error(text string, v ...interface{})
	Fatal(text string, v ...interface{})
}

type entry struct {
	timestamp time.Time
	traceID   string
	connID    string
	position  string
	level     string
	content   string
}

// Config is usually embedded into the engine options and loaded from yaml.
type Config struct {
	Level       string `yaml:"level" default:"INFO"`
	EnableTrace string `yaml:"trace"`                      // print trace and connection ids, True/False. default True
	QueueLength int    `yaml:"queueLength" default:"4096"` // async queue length
	TimeFormat  string `yaml:"timeFormat"`
	Path        string `yaml:"path"` // log directory, empty means stdout
	FileName    string `yaml:"fileName" default:"httpcore.log"`
	MaxSize     string `yaml:"maxSize" default:"100MB"` // 10KB, 1MB, 1GB
	Compress    string `yaml:"compress"`                // gzip rolled files, True/False. default True
	MaxBackups  int    `yaml:"maxBackups" default:"10"`
	EnableColor string `yaml:"color"`
}

var defaultLogger = newLoggerHandler(&Config{})

func Trace(text string, v ...interface{}) { defaultLogger.log(TraceLevel, text, v...) }
func Debug(text string, v ...interface{}) { defaultLogger.log(DebugLevel, text, v...) }
func Info(text string, v ...interface{})  { defaultLogger.log(InfoLevel, text, v...) }
func Warn(text string, v ...interface{})  { defaultLogger.log(WarnLevel, text, v...) }
func Error(text string, v ...interface{}) { defaultLogger.log(ErrorLevel, text, v...) }
func Fatal(text string, v ...interface{}) { defaultLogger.log(FatalLevel, text, v...) }

type LoggerHandler struct {
	lock     sync.RWMutex
	level    int
	queue    chan entry
	appender *appender
	pending  sync.WaitGroup
	closed   int32
}

func DefaultLogger() *LoggerHandler {
	return defaultLogger
}

func InitLogger(config *Config) {
	old := defaultLogger
	defaultLogger = newLoggerHandler(config)
	old.Close()
}

func NewLogger(config *Config) *LoggerHandler {
	return newLoggerHandler(config)
}

func newLoggerHandler(config *Config) *LoggerHandler {
	if config.Level == "" {
		config.Level = InfoLevel
	}
	if config.QueueLength <= 0 {
		config.QueueLength = 4096
	}
	if config.TimeFormat == "" {
		config.TimeFormat = _timeFormat
	}
	if config.FileName == "" {
		config.FileName = "httpcore.log"
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 10
	}

	lh := &LoggerHandler{
		level: getLevel(config.Level),
		queue: make(chan entry, config.QueueLength),
		appender: newAppender(config.TimeFormat, config.Path, config.FileName, config.MaxSize, config.MaxBackups,
			parseBool(config.EnableTrace, true), parseBool(config.Compress, true), parseBool(config.EnableColor, false)),
	}

	lh.pending.Add(1)
	go func() {
		defer lh.pending.Done()
		for d := range lh.queue {
			lh.appender.write(d)
		}
	}()

	return lh
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

// Close drains queued entries and releases the appender. Logging after Close
// is silently dropped.
func (lh *LoggerHandler) Close() {
	if !atomic.CompareAndSwapInt32(&lh.closed, 0, 1) {
		return
	}
	lh.lock.Lock()
	close(lh.queue)
	lh.lock.Unlock()
	lh.pending.Wait()
	lh.appender.close()
}

func (lh *LoggerHandler) Trace(text string, v ...interface{}) { lh.log(TraceLevel, text, v...) }
func (lh *LoggerHandler) Debug(text string, v ...interface{}) { lh.log(DebugLevel, text, v...) }
func (lh *LoggerHandler) Info(text string, v ...interface{})  { lh.log(InfoLevel, text, v...) }
func (lh *LoggerHandler) Warn(text string, v ...interface{})  { lh.log(WarnLevel, text, v...) }
func (lh *LoggerHandler) Error(text string, v ...interface{}) { lh.log(ErrorLevel, text, v...) }
func (lh *LoggerHandler) Fatal(text string, v ...interface{}) { lh.log(FatalLevel, text, v...) }

func (lh *LoggerHandler) IsEnabled(level string) bool {
	return lh.level <= getLevel(level)
}

func getLevel(level string) int {
	switch level {
	case TraceLevel:
		return _trace
	case DebugLevel:
		return _debug
	case InfoLevel:
		return _info
	case WarnLevel:
		return _warn
	case ErrorLevel:
		return _error
	case FatalLevel:
		return _fatal
	default:
		return _trace
	}
}

func getLevelColor(level string) string {
	switch level {
	case TraceLevel:
		return "\033[1;37m" + level + "\033[0m"
	case DebugLevel:
		return "\033[1;36m" + level + "\033[0m"
	case InfoLevel:
		return "\033[1;32m" + level + "\033[0m"
	case WarnLevel:
		return "\033[1;33m" + level + "\033[0m"
	case ErrorLevel, FatalLevel:
		return "\033[1;31m" + level + "\033[0m"
	default:
		return level
	}
}

func (lh *LoggerHandler) log(level string, text string, v ...interface{}) {
	if lh.level > getLevel(level) {
		return
	}

	_, file, line, _ := runtime.Caller(2)
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}

	d := entry{
		timestamp: time.Now(),
		level:     level,
		content:   fmt.Sprintf(text, v...),
		traceID:   golocalv1.GetTraceID(),
		connID:    golocalv1.GetConnID(),
		position:  file + ":" + strconv.Itoa(line),
	}

	lh.lock.RLock()
	defer lh.lock.RUnlock()
	if atomic.LoadInt32(&lh.closed) == 1 {
		return
	}
	lh.queue <- d
}

type nopLogger struct{}

func (nopLogger) Trace(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// Nop discards everything.
var Nop ILog = nopLogger{}
