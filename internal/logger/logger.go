package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *Logger
	mutex         sync.RWMutex
)

// Logger 日志结构体
type Logger struct {
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	closer      io.Closer
}

// LogLevel 日志级别类型
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// GetLogLevelFromString 将字符串转换为日志级别
func GetLogLevelFromString(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO // 默认级别
	}
}

/**
 * Initialize the global logger
 * @param {string} path - Log file path, "" or "console" writes to stdout only
 * @param {string} level - Log level (debug/info/warn/error)
 * @param {bool} console - Also write to stdout when a file path is given (server mode)
 * @param {int} maxSize - Maximum size in megabytes of a log file before it is rotated
 * @description
 * - File output is rotated by lumberjack, keeping 5 compressed backups
 * - Re-initializing closes the previous log file
 */
func InitLogger(path string, level string, console bool, maxSize int) {
	var output io.Writer
	var closer io.Closer

	if path == "" || path == "console" {
		output = os.Stdout
	} else {
		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "create log directory failed: %v\n", err)
			output = os.Stdout
		} else {
			if maxSize <= 0 {
				maxSize = 50
			}
			rotator := &lumberjack.Logger{
				Filename:   path,
				MaxSize:    maxSize,
				MaxBackups: 5,
				Compress:   true,
			}
			output = rotator
			closer = rotator
			if console {
				output = io.MultiWriter(os.Stdout, rotator)
			}
		}
	}
	SetOutput(output, level)

	mutex.Lock()
	defaultLogger.closer = closer
	mutex.Unlock()
}

// SetOutput 直接设置日志输出，测试中用来捕获日志
func SetOutput(output io.Writer, level string) {
	logLevel := GetLogLevelFromString(level)
	flags := log.LstdFlags | log.Lshortfile

	l := &Logger{
		debugLogger: log.New(io.Discard, "DEBUG: ", flags),
		infoLogger:  log.New(io.Discard, "INFO: ", flags),
		warnLogger:  log.New(io.Discard, "WARN: ", flags),
		errorLogger: log.New(io.Discard, "ERROR: ", flags),
	}

	// 根据级别设置输出
	if logLevel <= DEBUG {
		l.debugLogger.SetOutput(output)
	}
	if logLevel <= INFO {
		l.infoLogger.SetOutput(output)
	}
	if logLevel <= WARN {
		l.warnLogger.SetOutput(output)
	}
	if logLevel <= ERROR {
		l.errorLogger.SetOutput(output)
	}

	mutex.Lock()
	old := defaultLogger
	defaultLogger = l
	mutex.Unlock()

	if old != nil && old.closer != nil {
		old.closer.Close()
	}
}

// Close 关闭日志文件
func Close() {
	mutex.Lock()
	defer mutex.Unlock()
	if defaultLogger != nil && defaultLogger.closer != nil {
		defaultLogger.closer.Close()
		defaultLogger.closer = nil
	}
}

func current() *Logger {
	mutex.RLock()
	defer mutex.RUnlock()
	return defaultLogger
}

// calldepth 2 指向调用Debugf等函数的位置
const calldepth = 2

// Debug 输出调试日志
func Debug(v ...interface{}) {
	if l := current(); l != nil {
		l.debugLogger.Output(calldepth, fmt.Sprintln(v...))
	}
}

// Debugf 输出格式化调试日志
func Debugf(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.debugLogger.Output(calldepth, fmt.Sprintf(format, v...))
	}
}

// Info 输出信息日志
func Info(v ...interface{}) {
	if l := current(); l != nil {
		l.infoLogger.Output(calldepth, fmt.Sprintln(v...))
	}
}

// Infof 输出格式化信息日志
func Infof(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.infoLogger.Output(calldepth, fmt.Sprintf(format, v...))
	}
}

// Warn 输出警告日志
func Warn(v ...interface{}) {
	if l := current(); l != nil {
		l.warnLogger.Output(calldepth, fmt.Sprintln(v...))
	}
}

// Warnf 输出格式化警告日志
func Warnf(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.warnLogger.Output(calldepth, fmt.Sprintf(format, v...))
	}
}

// Error 输出错误日志
func Error(v ...interface{}) {
	if l := current(); l != nil {
		l.errorLogger.Output(calldepth, fmt.Sprintln(v...))
	}
}

// Errorf 输出格式化错误日志
func Errorf(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.errorLogger.Output(calldepth, fmt.Sprintf(format, v...))
	}
}

// Fatal 输出致命错误日志并退出程序
func Fatal(v ...interface{}) {
	if l := current(); l != nil {
		l.errorLogger.Output(calldepth, fmt.Sprintln(v...))
		os.Exit(1)
	}
	// 在日志系统未初始化时，使用标准错误输出
	fmt.Fprintf(os.Stderr, "FATAL: %v\n", fmt.Sprint(v...))
	os.Exit(1)
}

// Fatalf 输出格式化致命错误日志并退出程序
func Fatalf(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.errorLogger.Output(calldepth, fmt.Sprintf(format, v...))
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", v...)
	os.Exit(1)
}
