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

var (
	fileLogger  *log.Logger
	logFile     *os.File
	initialized bool
	verbose     bool
	consoleMu   sync.Mutex

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// InitLogger 在 dir 下创建带时间戳的日志文件，之后所有级别都会同时写入文件
func InitLogger(dir, name string) (string, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, timestamp))

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open log file: %w", err)
	}

	consoleMu.Lock()
	logFile = f
	fileLogger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	initialized = true
	consoleMu.Unlock()

	return logPath, nil
}

func Close() {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	fileLogger = nil
	initialized = false
}

// SetVerbose 打开后 Debug 也输出到 stderr
func SetVerbose(v bool) {
	consoleMu.Lock()
	verbose = v
	consoleMu.Unlock()
}

// SetOutput redirects console output. Either writer may be nil to keep the current one.
func SetOutput(out, errOut io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

func format(msgFormat string, v ...interface{}) string {
	msg := fmt.Sprintf(msgFormat, v...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	return msg
}

func write(console io.Writer, level, msg string) {
	if initialized {
		fileLogger.Output(3, level+msg)
	}
	if console != nil {
		fmt.Fprint(console, level+msg)
	}
}

func InfoFileOnly(msgFormat string, v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if !initialized {
		return
	}
	write(nil, "[INFO] ", format(msgFormat, v...))
}

func Info(msgFormat string, v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	write(stdout, "[INFO] ", format(msgFormat, v...))
}

func Debug(msgFormat string, v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	var console io.Writer
	if verbose {
		console = stderr
	}
	if !initialized && console == nil {
		return
	}
	write(console, "[DEBUG] ", format(msgFormat, v...))
}

func Warn(msgFormat string, v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	write(stderr, "[WARN] ", format(msgFormat, v...))
}

func Error(msgFormat string, v ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	write(stderr, "[ERROR] ", format(msgFormat, v...))
}
