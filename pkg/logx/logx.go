// Package logx provides structured logging with env-controlled debug domains.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger writes timestamped, component-tagged log lines to stderr.
type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Debug switches are process-wide. Domains==nil means all domains.
//
//nolint:gochecknoglobals // Intentional process-wide debug configuration
var (
	debugEnabled bool
	debugDomains map[string]bool
	debugMutex   sync.RWMutex
)

//nolint:gochecknoinits // Required for env var initialization
func init() {
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG and DEBUG_DOMAINS.
//
// DEBUG=1                            enable debug for all domains
// DEBUG=1 DEBUG_DOMAINS=rules,ledger enable debug for selected domains
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugEnabled = true
	}

	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugDomains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugDomains[strings.TrimSpace(domain)] = true
		}
	}
}

// SetDebug overrides the environment-derived debug configuration.
func SetDebug(enabled bool, domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debugEnabled = enabled
	if len(domains) == 0 {
		debugDomains = nil
	} else {
		debugDomains = make(map[string]bool, len(domains))
		for _, domain := range domains {
			debugDomains[strings.TrimSpace(domain)] = true
		}
	}
}

// IsDebugEnabledForDomain reports whether debug logging is on for a domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugEnabled {
		return false
	}
	if debugDomains == nil {
		return true
	}
	return debugDomains[domain]
}

// NewLogger creates a logger tagged with the given component name.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // stderr keeps stdout clean for CLI output
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabledForDomain(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Component returns the component name this logger is tagged with.
func (l *Logger) Component() string {
	return l.component
}

// Global convenience logger for code without a component handle.
//
//nolint:gochecknoglobals // Mirrors log.Default
var defaultLogger = NewLogger("system")

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns the wrapped error.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
