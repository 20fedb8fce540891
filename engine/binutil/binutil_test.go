package binutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/gwsync/engine/gwlog"
)

func TestSetupGWLog(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "binutil_test.log")
	SetupGWLog("binutil_test", "warn", logFile, false)
	defer SetupGWLog("", "debug", "", true)

	assert.Equal(t, gwlog.WarnLevel, gwlog.GetLevel())
	gwlog.Warnf("written to %s", logFile)
	gwlog.Sync()

	st, err := os.Stat(logFile)
	assert.Equal(t, nil, err)
	assert.T(t, st.Size() > 0)
}

func TestSetupHTTPServerDisabled(t *testing.T) {
	SetupHTTPServer("")
}
