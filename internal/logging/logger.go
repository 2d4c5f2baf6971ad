package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerSetupParams struct {
	LogFileName   string
	LogToStdout   bool
	LogLevel      string
	LogFormatJSON bool
}

// Setup builds the service logger and installs it as the zerolog global.
func Setup(params LoggerSetupParams) zerolog.Logger {
	zerolog.SetGlobalLevel(GetLevel(params.LogLevel))

	var console io.Writer = os.Stdout
	if !params.LogFormatJSON {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	var out io.Writer
	switch {
	case params.LogFileName == "":
		out = console
	default:
		if !strings.HasSuffix(params.LogFileName, ".log") {
			params.LogFileName += ".log"
		}
		lumberJackLogger := &lumberjack.Logger{
			Filename:  params.LogFileName,
			MaxSize:   50,    // megabytes
			LocalTime: false, // false -> use UTC
			Compress:  true,
		}
		out = lumberJackLogger
		if params.LogToStdout {
			out = zerolog.MultiLevelWriter(console, lumberJackLogger)
		}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	if params.LogFileName == "" {
		logger.Debug().Msg("writing logs only to STDOUT")
	} else if params.LogToStdout {
		logger.Debug().Str("file", params.LogFileName).Msg("writing logs to file and STDOUT")
	}
	return logger
}

func GetLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
