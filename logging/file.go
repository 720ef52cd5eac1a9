package logging

import (
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits of the log files written by AddFileOutput.
const (
	logFileMaxSizeMB  = 100
	logFileMaxBackups = 3
)

// AddFileOutput returns a logger that writes everything logger writes and also appends JSON
// entries to the rotating file at path. The returned closer releases the file. The new logger
// shares the level of logger.
func AddFileOutput(logger Logger, path string) (Logger, io.Closer, error) {
	imp, ok := logger.(*impl)
	if !ok {
		return nil, nil, errors.Errorf("cannot add a file output to a %T", logger)
	}
	if path == "" {
		return nil, nil, errors.New("log file path is empty")
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		Compress:   true,
	}
	cfg := NewZapEncoderConfig(true)
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(file), imp.level)
	cores := append(append([]zapcore.Core{}, imp.cores...), fileCore)
	return newImpl(imp.name, imp.level, cores...), file, nil
}
