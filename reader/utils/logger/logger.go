package logger

import (
	"log"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/metrico/chartql/reader/config"
	"github.com/sirupsen/logrus"
)

const (
	SYSLOG_LOG_EMERG   = "LOG_EMERG"
	SYSLOG_LOG_ALERT   = "LOG_ALERT"
	SYSLOG_LOG_CRIT    = "LOG_CRIT"
	SYSLOG_LOG_ERR     = "LOG_ERR"
	SYSLOG_LOG_WARNING = "LOG_WARNING"
	SYSLOG_LOG_NOTICE  = "LOG_NOTICE"
	SYSLOG_LOG_INFO    = "LOG_INFO"
	SYSLOG_LOG_DEBUG   = "LOG_DEBUG"
)

type LogInfo logrus.Fields

var RLogs *rotatelogs.RotateLogs
var Logger = logrus.New()

// initLogger function
func InitLogger() {
	if config.Cloki.Setting.LOG_SETTINGS.Json {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	}

	if config.Cloki.Setting.LOG_SETTINGS.Stdout {
		Logger.SetOutput(os.Stdout)
		log.SetOutput(os.Stdout)
	}

	/* log level default */
	if config.Cloki.Setting.LOG_SETTINGS.Level == "" {
		config.Cloki.Setting.LOG_SETTINGS.Level = "error"
	}
	SetLoggerLevel(config.Cloki.Setting.LOG_SETTINGS.Level)

	Logger.Info("init logging system")

	if !config.Cloki.Setting.LOG_SETTINGS.Stdout && !config.Cloki.Setting.LOG_SETTINGS.SysLog {
		configureLocalFileSystemHook()
	} else if !config.Cloki.Setting.LOG_SETTINGS.Stdout {
		configureSyslogHook()
	}
}

// SetLoggerLevel function
func SetLoggerLevel(loglevelString string) {
	if logLevel, err := logrus.ParseLevel(loglevelString); err == nil {
		Logger.SetLevel(logLevel)
	} else {
		Logger.Error("Couldn't parse loglevel", loglevelString)
		Logger.SetLevel(logrus.ErrorLevel)
	}
}

func configureLocalFileSystemHook() {
	logPath := config.Cloki.Setting.LOG_SETTINGS.Path
	logName := config.Cloki.Setting.LOG_SETTINGS.Name
	var err error

	if configPath := os.Getenv("WEBAPPLOGPATH"); configPath != "" {
		logPath = configPath
	}
	if configName := os.Getenv("WEBAPPLOGNAME"); configName != "" {
		logName = configName
	}
	if logName == "" {
		logName = "chartql.log"
	}

	fileLogExtension := filepath.Ext(logName)
	fileLogBase := strings.TrimSuffix(logName, fileLogExtension)

	pathAllLog := logPath + "/" + fileLogBase + "_%Y%m%d%H%M" + fileLogExtension
	pathLog := logPath + "/" + logName

	RLogs, err = rotatelogs.New(
		pathAllLog,
		rotatelogs.WithLinkName(pathLog),
		rotatelogs.WithMaxAge(time.Duration(config.Cloki.Setting.LOG_SETTINGS.MaxAgeDays)*time.Hour*24),
		rotatelogs.WithRotationTime(time.Duration(config.Cloki.Setting.LOG_SETTINGS.RotationHours)*time.Hour),
	)
	if err != nil {
		Logger.Println("Local file system hook initialize fail")
		return
	}

	Logger.SetOutput(RLogs)
	log.SetOutput(RLogs)
}

func configureSyslogHook() {
	Logger.Println("Init syslog...")

	severity := getSeverityByName(config.Cloki.Setting.LOG_SETTINGS.SysLogLevel)
	syslogger, err := syslog.New(severity, "chartql")
	if err != nil {
		Logger.Println("Unable to connect to syslog:", err)
		return
	}

	Logger.SetOutput(syslogger)
	log.SetOutput(syslogger)
}

func Info(args ...interface{}) {
	Logger.Info(args...)
}

func Warn(args ...interface{}) {
	Logger.Warn(args...)
}

func Error(args ...interface{}) {
	Logger.Error(args...)
}

func Debug(args ...interface{}) {
	Logger.Debug(args...)
}

func WithFields(fields LogInfo) *logrus.Entry {
	return Logger.WithFields(logrus.Fields(fields))
}

func getSeverityByName(severity string) syslog.Priority {
	switch severity {
	case SYSLOG_LOG_EMERG:
		return syslog.LOG_EMERG
	case SYSLOG_LOG_ALERT:
		return syslog.LOG_ALERT
	case SYSLOG_LOG_CRIT:
		return syslog.LOG_CRIT
	case SYSLOG_LOG_ERR:
		return syslog.LOG_ERR
	case SYSLOG_LOG_WARNING:
		return syslog.LOG_WARNING
	case SYSLOG_LOG_NOTICE:
		return syslog.LOG_NOTICE
	case SYSLOG_LOG_INFO:
		return syslog.LOG_INFO
	case SYSLOG_LOG_DEBUG:
		return syslog.LOG_DEBUG
	default:
		return syslog.LOG_INFO
	}
}
