package zapLogger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once sync.Once
	Log  *zap.SugaredLogger
	base *zap.Logger
)

// Options selects where logs go and how verbose they are.
type Options struct {
	File  string // empty logs to stdout only
	Level string // debug, info, warn, error
}

// Init builds the process logger once. It returns the structured logger
// for libraries and the open log file, nil when logging to stdout only.
func Init(opts Options) (*zap.Logger, *os.File, error) {
	var (
		logFile *os.File
		initErr error
	)
	once.Do(func() {
		level := zap.InfoLevel
		if opts.Level != "" {
			if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
				initErr = fmt.Errorf("invalid log level %q: %w", opts.Level, err)
				return
			}
		}

		writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
		if opts.File != "" {
			f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				initErr = fmt.Errorf("cannot open log file: %w", err)
				return
			}
			logFile = f
			writers = append(writers, zapcore.AddSync(f))
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.NewMultiWriteSyncer(writers...),
			level,
		)

		base = zap.New(core, zap.AddCaller())
		Log = base.WithOptions(zap.AddCallerSkip(1)).Sugar()
	})
	if initErr != nil {
		return nil, nil, initErr
	}
	if base == nil {
		return nil, nil, fmt.Errorf("logger initialization failed earlier")
	}
	return base, logFile, nil
}

// FiberLoggingMiddleware returns Fiber's logger middleware writing access
// logs to stdout and, when set, to logFile.
func FiberLoggingMiddleware(logFile *os.File) fiber.Handler {
	var out io.Writer = os.Stdout
	if logFile != nil {
		out = io.MultiWriter(os.Stdout, logFile)
	}
	return logger.New(logger.Config{
		Output:     out,
		Format:     "${time} | ${status} | ${latency} | ${method} | ${path} | ${reqHeader:X-Account-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	})
}
