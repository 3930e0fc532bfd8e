package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

var (
	mu          sync.Mutex
	verboseMode bool
	infoLogger  *log.Logger
	debugLogger *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
)

func init() {
	// Info and debug go to stdout, warnings and errors to stderr.
	infoLogger = log.New(os.Stdout, "", 0)
	debugLogger = log.New(os.Stderr, "", 0)
	warnLogger = log.New(os.Stderr, "Warning: ", 0)
	errorLogger = log.New(os.Stderr, "ERROR: ", 0)
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	verboseMode = verbose
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verboseMode
}

// SetOutput redirects informational output to out and diagnostics
// (debug, warnings, errors) to errOut. Nil writers are left unchanged.
func SetOutput(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		infoLogger.SetOutput(out)
	}
	if errOut != nil {
		debugLogger.SetOutput(errOut)
		warnLogger.SetOutput(errOut)
		errorLogger.SetOutput(errOut)
	}
}

func getTimestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// Debugf logs a formatted debug message if verbose mode is enabled.
// Includes a timestamp.
func Debugf(format string, v ...interface{}) {
	if IsVerbose() {
		debugLogger.Printf("[%s] DEBUG: %s", getTimestamp(), fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted informational message.
func Infof(format string, v ...interface{}) {
	infoLogger.Printf(format, v...)
}

// Warnf logs a formatted, non-fatal warning.
func Warnf(format string, v ...interface{}) {
	warnLogger.Printf(format, v...)
}

// Errorf logs a formatted error message.
func Errorf(format string, v ...interface{}) {
	errorLogger.Printf(format, v...)
}
