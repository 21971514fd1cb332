package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is a leveled file logger scoped to one trading context (a user's
// live session, a backtest run, an optimizer run).
type Logger struct {
	scope   string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
	debug   bool
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
	LogLevelDebug   LogLevel = "DEBUG"
)

// NewLogger creates a file logger under logs/ named after the scope and the
// current date.
func NewLogger(scope string) (*Logger, error) {
	return NewLoggerWithDebug(scope, false)
}

// NewLoggerWithDebug creates a file logger with debug entries enabled.
func NewLoggerWithDebug(scope string, debug bool) (*Logger, error) {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.log", scope, time.Now().Format("2006-01-02"))
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		scope:   scope,
		logFile: file,
		logger:  log.New(file, "", 0),
		logDir:  logDir,
		debug:   debug,
	}

	l.writeSessionHeader()
	return l, nil
}

// NewDiscardLogger returns a logger that writes nowhere. Used by tests and
// by batch runs that report through their own channel.
func NewDiscardLogger() *Logger {
	return &Logger{
		scope:  "discard",
		logger: log.New(io.Discard, "", 0),
	}
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
TRADING SESSION STARTED
================================================================================
Scope: %s
Started: %s
================================================================================
`, l.scope, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	if level == LogLevelDebug && !l.debug {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Warn is shorthand for Warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Status logs pipeline status information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// Debug logs a debug message when debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

// LogEntry logs the full detail of a placed entry.
func (l *Logger) LogEntry(userID int64, symbol string, qty, entryPrice, tp, sl float64, orderRef string) {
	l.Trade("ENTRY user=%d %s qty=%.8f price=%.8f tp=%.8f sl=%.8f ref=%s",
		userID, symbol, qty, entryPrice, tp, sl, orderRef)
}

// LogExit logs the full detail of a closed trade.
func (l *Logger) LogExit(userID int64, symbol string, qty, exitPrice, pnl float64, reason string) {
	l.Trade("EXIT user=%d %s qty=%.8f price=%.8f pnl=%.8f reason=%s",
		userID, symbol, qty, exitPrice, pnl, reason)
}

// Close writes a session footer and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}

	footer := fmt.Sprintf(`
================================================================================
TRADING SESSION ENDED
Ended: %s
================================================================================
`, time.Now().Format("2006-01-02 15:04:05"))
	l.logger.Print(footer)

	return l.logFile.Close()
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	filename := fmt.Sprintf("%s_%s.log", l.scope, time.Now().Format("2006-01-02"))
	return filepath.Join(l.logDir, filename)
}
