/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logging provides module-scoped leveled loggers for the SDK.
//
//	Basic Flow:
//	1) Create new logger for a specific module
//	2) Optionally set the level for the module
//	3) Call log functions
package logging

import (
	"os"

	logging "github.com/op/go-logging"
)

const defaultFormat = "%{time:2006-01-02 15:04:05.000 MST} [%{module}] %{level:.4s} : %{message}"

func init() {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(defaultFormat))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(logging.WARNING, "")
	logging.SetBackend(leveled)
}

// Level defines all available log levels for log messages.
type Level int

// Log levels.
const (
	CRITICAL Level = iota
	ERROR
	WARNING
	INFO
	DEBUG
)

// Logger is a module-scoped leveled logger
type Logger struct {
	instance *logging.Logger
}

// NewLogger creates and returns a Logger object based on the module name.
func NewLogger(module string) *Logger {
	return &Logger{instance: logging.MustGetLogger(module)}
}

// SetLevel sets the log level for the given module
func SetLevel(module string, level Level) {
	logging.SetLevel(toBackendLevel(level), module)
}

// GetLevel returns the log level for the given module
func GetLevel(module string) Level {
	return fromBackendLevel(logging.GetLevel(module))
}

// IsEnabledFor returns true if the given log level is enabled for the given module
func IsEnabledFor(module string, level Level) bool {
	return logging.GetLevel(module) >= toBackendLevel(level)
}

// LogLevel returns the log level from a string representation.
func LogLevel(level string) (Level, error) {
	l, err := logging.LogLevel(level)
	return fromBackendLevel(l), err
}

// Fatal calls Fatal function of underlying logger
func (l *Logger) Fatal(args ...interface{}) {
	l.instance.Fatal(args...)
}

// Fatalf calls Fatalf function of underlying logger
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.instance.Fatalf(format, args...)
}

// Panic calls Panic function of underlying logger
func (l *Logger) Panic(args ...interface{}) {
	l.instance.Panic(args...)
}

// Panicf calls Panicf function of underlying logger
func (l *Logger) Panicf(format string, args ...interface{}) {
	l.instance.Panicf(format, args...)
}

// Debug calls Debug function of underlying logger
func (l *Logger) Debug(args ...interface{}) {
	l.instance.Debug(args...)
}

// Debugf calls Debugf function of underlying logger
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.instance.Debugf(format, args...)
}

// Debugln is equivalent to Debug
func (l *Logger) Debugln(args ...interface{}) {
	l.instance.Debug(args...)
}

// Info calls Info function of underlying logger
func (l *Logger) Info(args ...interface{}) {
	l.instance.Info(args...)
}

// Infof calls Infof function of underlying logger
func (l *Logger) Infof(format string, args ...interface{}) {
	l.instance.Infof(format, args...)
}

// Warn calls Warning function of underlying logger
func (l *Logger) Warn(args ...interface{}) {
	l.instance.Warning(args...)
}

// Warnf calls Warningf function of underlying logger
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.instance.Warningf(format, args...)
}

// Error calls Error function of underlying logger
func (l *Logger) Error(args ...interface{}) {
	l.instance.Error(args...)
}

// Errorf calls Errorf function of underlying logger
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.instance.Errorf(format, args...)
}

func toBackendLevel(level Level) logging.Level {
	switch level {
	case CRITICAL:
		return logging.CRITICAL
	case ERROR:
		return logging.ERROR
	case WARNING:
		return logging.WARNING
	case INFO:
		return logging.INFO
	case DEBUG:
		return logging.DEBUG
	default:
		return logging.WARNING
	}
}

func fromBackendLevel(level logging.Level) Level {
	switch level {
	case logging.CRITICAL:
		return CRITICAL
	case logging.ERROR:
		return ERROR
	case logging.WARNING, logging.NOTICE:
		return WARNING
	case logging.INFO:
		return INFO
	case logging.DEBUG:
		return DEBUG
	default:
		return WARNING
	}
}
