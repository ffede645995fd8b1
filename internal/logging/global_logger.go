// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logging sets up logrus for voiceswitch. Every line carries the
// request id of the management call that caused it and the user the
// supervisor acted for, so one switch can be followed across components.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// MainLogName is the active log file inside the logs directory.
const MainLogName = "main.log"

// Fields lifted out of the trailing key=value list into fixed columns.
const (
	fieldRequestID = "request_id"
	fieldUser      = "user"
)

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

// LogFormatter renders
//
//	[2026-01-02 20:14:04] [warn ] [a1b2c3d4] [u0] [controller.go:120] Failed to start com.a/.Voice | component=com.a/.Voice
//
// Entries without a request or user get "--------" and "u-".
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	fmt.Fprintf(buffer, "[%s] [%-5s] [%s] [%s]",
		entry.Time.Format("2006-01-02 15:04:05"),
		levelName(entry.Level),
		requestColumn(entry.Data),
		userColumn(entry.Data))
	if entry.Caller != nil {
		fmt.Fprintf(buffer, " [%s:%d]", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteByte(' ')
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	writeFields(buffer, entry.Data)
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

func levelName(level log.Level) string {
	if level == log.WarnLevel {
		return "warn"
	}
	return level.String()
}

func requestColumn(data log.Fields) string {
	if id, ok := data[fieldRequestID].(string); ok && id != "" {
		return id
	}
	return "--------"
}

func userColumn(data log.Fields) string {
	if user, ok := data[fieldUser]; ok {
		return fmt.Sprintf("u%v", user)
	}
	return "u-"
}

// writeFields appends the remaining fields in key order so lines are stable.
func writeFields(buffer *bytes.Buffer, data log.Fields) {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k != fieldRequestID && k != fieldUser {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	buffer.WriteString(" |")
	for i, k := range keys {
		if i > 0 {
			buffer.WriteByte(',')
		}
		fmt.Fprintf(buffer, " %s=%v", k, data[k])
	}
}

// SetupBaseLogger installs LogFormatter on the standard logger and routes
// the management API's Gin output through it. Later calls are no-ops.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			log.WithField("component", "api").Debugf(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(CloseLogOutputs)
	})
}

// SetDebug switches between debug and info level.
func SetDebug(debug bool) {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
}

// ConfigureLogOutput sends supervisor logs to logDir/main.log, rotated at
// 10 MB, or back to stdout. A positive logsMaxTotalSizeMB caps the size of
// logDir; rotated files are pruned oldest first and main.log is never removed.
func ConfigureLogOutput(loggingToFile bool, logDir string, logsMaxTotalSizeMB int) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	if logDir == "" {
		logDir = "logs"
	}
	closeFileWriterLocked()

	protectedPath := ""
	if loggingToFile {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("logging: create %s: %w", logDir, err)
		}
		protectedPath = filepath.Join(logDir, MainLogName)
		logWriter = &lumberjack.Logger{Filename: protectedPath, MaxSize: 10}
		log.SetOutput(logWriter)
	}

	configureLogDirCleanerLocked(logDir, logsMaxTotalSizeMB, protectedPath)
	return nil
}

// CloseLogOutputs stops the cleaner and returns output to stdout.
func CloseLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	stopLogDirCleanerLocked()
	closeFileWriterLocked()
}

func closeFileWriterLocked() {
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	log.SetOutput(os.Stdout)
}
