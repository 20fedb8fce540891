//go:build !windows

package binutil

import (
	"os"

	"github.com/sevlyar/go-daemon"
	"github.com/xiaonanln/gwsync/engine/gwlog"
)

// Daemonize reruns the process in background and exits the parent
//
// The child writes its pid to pidFile if it is not empty; Release removes it.
func Daemonize(pidFile string) Releaser {
	dctx := &daemon.Context{
		PidFileName: pidFile,
		PidFilePerm: 0644,
		WorkDir:     "./",
		Umask:       027,
	}
	child, err := dctx.Reborn()
	if err != nil {
		gwlog.Panicf("daemonize failed: %v", err)
	}

	if child != nil {
		gwlog.Infof("run in daemon mode, pid=%d", child.Pid)
		os.Exit(0)
	}
	return dctx
}
