package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger provides structured JSON logging with redaction of recipient
// emails and tracking tokens. Tokens grant write access to a recipient's
// campaign record, so they are treated like credentials in log output.
type Logger struct {
	level  Level
	mu     sync.Mutex
	redact bool
	out    io.Writer
}

var defaultLogger = &Logger{level: INFO, redact: true, out: os.Stderr}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedact enables or disables value redaction for the default logger.
func SetRedact(r bool) { defaultLogger.redact = r }

// SetOutput redirects the default logger, used by tests.
func SetOutput(w io.Writer) { defaultLogger.out = w }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redact {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	if key == "token" || strings.HasSuffix(key, "_token") {
		return RedactToken(val)
	}
	// Catch emails embedded in generic fields too.
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
