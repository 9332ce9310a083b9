package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

var (
	infoLogger  *log.Logger
	errorLogger *log.Logger
)

// Init routes Info/Error output to stdout and a dated log file. Safe to
// skip in tests; the helpers fall back to the default logger.
func Init(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("eligo_%s.log", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	out := io.MultiWriter(os.Stdout, f)
	infoLogger = log.New(out, "[INFO] ", log.Ldate|log.Ltime)
	errorLogger = log.New(out, "[ERROR] ", log.Ldate|log.Ltime|log.Lshortfile)
	return nil
}

func Info(format string, v ...interface{}) {
	if infoLogger != nil {
		_ = infoLogger.Output(2, fmt.Sprintf(format, v...))
		return
	}
	log.Printf("[INFO] "+format, v...)
}

func Error(format string, v ...interface{}) {
	if errorLogger != nil {
		_ = errorLogger.Output(2, fmt.Sprintf(format, v...))
		return
	}
	log.Printf("[ERROR] "+format, v...)
}
