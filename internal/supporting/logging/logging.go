/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"github.com/go-errors/errors"
	"github.com/gookit/color"
	"github.com/gookit/slog"
	"github.com/gookit/slog/handler"
	"github.com/gookit/slog/rotatefile"
	"github.com/inhies/go-bytesize"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"os"
	"strings"
	"sync"
	"time"
)

var WithVerbose = false
var WithCaller = false

const (
	VerboseLevel    slog.Level        = 650
	defaultFileSize bytesize.ByteSize = 5 * bytesize.MB
)

const (
	plainTemplate  = "[{{datetime}}] [{{level}}] {{message}} {{data}} {{extra}}\n"
	callerTemplate = "[{{datetime}}] [{{level}}] [{{caller}}] {{message}} {{data}} {{extra}}\n"
)

var levelNames = map[string]slog.Level{
	"panic":   slog.PanicLevel,
	"fatal":   slog.FatalLevel,
	"err":     slog.ErrorLevel,
	"error":   slog.ErrorLevel,
	"warn":    slog.WarnLevel,
	"warning": slog.WarnLevel,
	"notice":  slog.NoticeLevel,
	"info":    slog.InfoLevel,
	"verbose": VerboseLevel,
	"debug":   slog.DebugLevel,
	"trace":   slog.TraceLevel,
}

var (
	loggingConfig  spiconfig.LoggerConfig
	defaultLevel   slog.Level
	consoleHandler slog.Handler
	consoleEnabled bool
	fileHandler    *handler.SyncCloseHandler
	fileHandlers   = make(map[string]*handler.SyncCloseHandler)
)

// InitializeLogging installs the handlers of the logging section. Loggers
// created before keep the previous handlers.
func InitializeLogging(
	config *spiconfig.Config, logToStdErr bool,
) error {

	registerVerboseLevel()

	loggingConfig = config.Logging
	defaultLevel = Name2Level(loggingConfig.Level)
	consoleHandler = newConsoleHandler(logToStdErr)
	consoleEnabled = enabled(loggingConfig.Outputs.Console.Enabled, true)

	_, h, err := newFileHandler(loggingConfig.Outputs.File)
	if err != nil {
		return err
	}
	fileHandler = h
	return nil
}

func registerVerboseLevel() {
	slog.LevelNames[VerboseLevel] = "VERBOSE"
	slog.ColorTheme[VerboseLevel] = color.FgLightGreen
	slog.AllLevels = slog.Levels{
		slog.PanicLevel, slog.FatalLevel, slog.ErrorLevel, slog.WarnLevel,
		slog.NoticeLevel, slog.InfoLevel, VerboseLevel, slog.DebugLevel, slog.TraceLevel,
	}
	slog.NormalLevels = slog.Levels{
		slog.InfoLevel, slog.NoticeLevel, slog.DebugLevel, slog.TraceLevel, VerboseLevel,
	}
}

func newConsoleHandler(
	logToStdErr bool,
) slog.Handler {

	console := handler.NewConsoleHandler(slog.AllLevels)
	template := plainTemplate
	if WithCaller {
		template = callerTemplate
	}
	console.TextFormatter().SetTemplate(template)
	if logToStdErr {
		console.IOWriterHandler = *handler.NewIOWriterHandler(os.Stderr, slog.AllLevels)
	}
	return &syncConsoleHandler{ConsoleHandler: console}
}

// syncConsoleHandler serializes writes of concurrent pipelines
type syncConsoleHandler struct {
	*handler.ConsoleHandler
	mutex sync.Mutex
}

func (h *syncConsoleHandler) Handle(
	record *slog.Record,
) error {

	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.ConsoleHandler.Handle(record)
}

type Logger struct {
	slogger *slog.Logger
	level   slog.Level
	name    string
	tag     string
}

// NewLogger creates a named logger. Outputs and level of the logger can be
// overridden per name in the logging section.
func NewLogger(
	name string,
) (*Logger, error) {

	level := defaultLevel
	handlers := make([]slog.Handler, 0, 2)
	if override, found := loggingConfig.Loggers[name]; found {
		if override.Level != nil {
			level = Name2Level(*override.Level)
		}
		if enabled(override.Outputs.Console.Enabled, true) && consoleHandler != nil {
			handlers = append(handlers, consoleHandler)
		}
		found, h, err := newFileHandler(override.Outputs.File)
		if err != nil {
			return nil, err
		}
		if !found {
			h = fileHandler
		}
		if h != nil {
			handlers = append(handlers, h)
		}
	} else {
		if consoleEnabled && consoleHandler != nil {
			handlers = append(handlers, consoleHandler)
		}
		if fileHandler != nil {
			handlers = append(handlers, fileHandler)
		}
	}

	slogger := slog.NewWithName(name, func(l *slog.Logger) {
		l.CallerSkip += 2
		l.ReportCaller = WithCaller
		l.AddHandlers(handlers...)
	})
	return &Logger{
		slogger: slogger,
		level:   level,
		name:    name,
	}, nil
}

// NewPipelineLogger creates a logger which tags every message with the
// given pipeline id.
func NewPipelineLogger(
	name, pipelineId string,
) (*Logger, error) {

	logger, err := NewLogger(name)
	if err != nil {
		return nil, err
	}
	return logger.Tagged(pipelineId), nil
}

// Tagged returns a copy of the logger adding the tag after the logger name
func (l *Logger) Tagged(
	tag string,
) *Logger {

	return &Logger{
		slogger: l.slogger,
		level:   l.level,
		name:    l.name,
		tag:     tag,
	}
}

func (l *Logger) Enabled(
	level slog.Level,
) bool {

	return l.level >= level || (level == VerboseLevel && WithVerbose)
}

func (l *Logger) Tracef(format string, args ...any) {
	l.logf(slog.TraceLevel, format, args)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logf(slog.DebugLevel, format, args)
}

func (l *Logger) Verbosef(format string, args ...any) {
	l.logf(VerboseLevel, format, args)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logf(slog.InfoLevel, format, args)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logf(slog.WarnLevel, format, args)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logf(slog.ErrorLevel, format, args)
}

func (l *Logger) logf(
	level slog.Level, format string, args []any,
) {

	if l.Enabled(level) {
		format = l.prefix() + " " + strings.TrimSuffix(format, "\n")
		l.slogger.Logf(level, format, args...)
	}
}

func (l *Logger) prefix() string {
	if l.tag == "" {
		return "[" + l.name + "]"
	}
	return "[" + l.name + "] [" + l.tag + "]"
}

// Name2Level resolves a level name case-insensitively, unknown names
// resolve to info
func Name2Level(
	name string,
) slog.Level {

	if level, ok := levelNames[strings.ToLower(name)]; ok {
		return level
	}
	return slog.InfoLevel
}

func enabled(
	value *bool, defaultValue bool,
) bool {

	if value == nil {
		return defaultValue
	}
	return *value
}

// newFileHandler returns the (cached) handler for the file output, found
// is false if the output is disabled.
func newFileHandler(
	config spiconfig.LoggerFileConfig,
) (found bool, h *handler.SyncCloseHandler, err error) {

	if !enabled(config.Enabled, false) {
		return false, nil, nil
	}
	if h, ok := fileHandlers[config.Path]; ok {
		return true, h, nil
	}

	configurator := func(c *handler.Config) {
		c.Levels = slog.AllLevels
		c.Level = slog.TraceLevel
		c.Compress = config.Compress
	}

	switch {
	case !enabled(config.Rotate, false):
		h, err = handler.NewBuffFileHandler(config.Path, 1024, configurator)

	case config.MaxDuration != nil:
		interval := rotatefile.RotateTime((time.Second * *config.MaxDuration).Seconds())
		h, err = handler.NewTimeRotateFileHandler(config.Path, interval, configurator)

	default:
		maxSize := defaultFileSize
		if config.MaxSize != nil {
			if maxSize, err = bytesize.Parse(*config.MaxSize); err != nil {
				return false, nil, errors.Errorf("Failed to parse max size property '%s' => %s", *config.MaxSize, err)
			}
		}
		h, err = handler.NewSizeRotateFileHandler(config.Path, int(maxSize), configurator)
	}
	if err != nil {
		return false, nil, errors.Errorf("Failed to initialize logfile handler for %s => %s", config.Path, err)
	}

	fileHandlers[config.Path] = h
	return true, h, nil
}
