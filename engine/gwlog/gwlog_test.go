package gwlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bmizerany/assert"
)

func TestParseLevel(t *testing.T) {
	for s, lv := range map[string]Level{
		"debug":   DebugLevel,
		"info":    InfoLevel,
		"WARNING": WarnLevel,
		"warn":    WarnLevel,
		"error":   ErrorLevel,
		"panic":   PanicLevel,
		"fatal":   FatalLevel,
		"verbose": DebugLevel,
	} {
		assert.Equal(t, lv, ParseLevel(s), s)
	}
}

func TestFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "gwlog_test.log")
	SetSource("gwlog_test")
	SetOutput([]string{"stderr", logFile})
	SetLevel(DebugLevel)
	defer SetOutput(nil)
	defer SetSource("")

	Debugf("this is a debug %d", 1)
	SetLevel(InfoLevel)
	assert.Equal(t, InfoLevel, GetLevel())
	Debugf("SHOULD NOT SEE THIS!")
	Infof("this is an info %d", 2)
	Warnf("this is a warning %d", 3)
	TraceError("this is a trace error %d", 4)
	func() {
		defer func() {
			assert.T(t, recover() != nil, "Panicf should panic")
		}()
		Panicf("this is a panic %d", 5)
	}()
	Sync()

	data, err := os.ReadFile(logFile)
	assert.Equal(t, nil, err)
	content := string(data)
	assert.T(t, strings.Contains(content, "this is a debug 1"), content)
	assert.T(t, strings.Contains(content, "this is a warning 3"), content)
	assert.T(t, strings.Contains(content, "gwlog_test"), content)
	assert.T(t, !strings.Contains(content, "SHOULD NOT SEE THIS"), content)
}
