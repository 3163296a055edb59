package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewMultiCore tees a console core with an optional JSON file core. The
// file always gets JSON; the console gets the colored format in
// development and JSON otherwise. A nil file writer yields console only.
func NewMultiCore(level zapcore.LevelEnabler, console, file zapcore.WriteSyncer, dev bool) zapcore.Core {
	var consoleEncoder zapcore.Encoder
	if dev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, console, level)
	if file == nil {
		return consoleCore
	}

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), file, level)
	return zapcore.NewTee(consoleCore, fileCore)
}
