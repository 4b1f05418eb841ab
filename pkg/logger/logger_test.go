package logger_test

import (
	"testing"

	"github.com/aresqos/qosd/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestGetReturnsSameInstance(t *testing.T) {
	assert.Same(t, logger.Get(), logger.Get())
}

func TestSetLevelStrDefaultsToInfoOnUnknown(t *testing.T) {
	log := logger.Get()
	log.SetLevelStr("not-a-real-level")
	assert.Equal(t, logger.InfoLevel, log.GetLevel())
}

func TestSetLevelStrRecognizesEachLevel(t *testing.T) {
	log := logger.Get()
	cases := map[string]logger.LogLevel{
		"debug": logger.DebugLevel,
		"info":  logger.InfoLevel,
		"warn":  logger.WarnLevel,
		"error": logger.ErrorLevel,
	}
	for str, level := range cases {
		log.SetLevelStr(str)
		assert.Equal(t, level, log.GetLevel())
	}
}

func TestLoggingMethodsDoNotPanic(t *testing.T) {
	log := logger.Get()
	log.SetLevel(logger.DebugLevel)
	assert.NotPanics(t, func() {
		log.Debug("debug %s", "msg")
		log.Info("info %d", 1)
		log.Warn("warn")
		log.Error("error: %v", assert.AnError)
	})
}
