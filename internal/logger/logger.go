package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	logFile *os.File
)

// Init points the logrus standard logger at logFilePath. The file is
// truncated so every run starts with a fresh log. An empty path keeps
// logging on stderr.
func Init(logFilePath string, level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   logFilePath != "",
	})

	if logFilePath == "" {
		log.SetOutput(os.Stderr)
		return nil
	}
	return RotateLog(logFilePath)
}

// RotateLog clears the current log file or creates a new one to start fresh.
func RotateLog(logFilePath string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(logFilePath), 0700); err != nil {
		return err
	}

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if logFile != nil {
		logFile.Close()
	}
	logFile = file
	log.SetOutput(file)
	return nil
}

// Cleanup closes the log file when the application is done using it.
func Cleanup() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	log.SetOutput(io.Discard)
}

// Info logs an informational message.
func Info(v ...interface{}) {
	log.Info(v...)
}

// Error logs an error message.
func Error(v ...interface{}) {
	log.Error(v...)
}
