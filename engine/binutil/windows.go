//go:build windows

package binutil

import "github.com/xiaonanln/gwsync/engine/gwlog"

type nopReleaser struct{}

func (nopReleaser) Release() error {
	return nil
}

// Daemonize is not supported on windows, the process keeps running in foreground
func Daemonize(pidFile string) Releaser {
	gwlog.Warnf("can not run in daemon mode in windows, -d ignored")
	return nopReleaser{}
}
