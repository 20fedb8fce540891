package binutil

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/opmon"
)

// Releaser releases what Daemonize acquired
type Releaser interface {
	Release() error
}

// SetupHTTPServer starts the HTTP server for go tool pprof and prometheus metrics
func SetupHTTPServer(listenAddr string) {
	if listenAddr == "" {
		gwlog.Infof("http server not enabled")
		return
	}

	gwlog.Infof("http server listening on %s", listenAddr)
	gwlog.Infof("metrics http://%s/metrics", listenAddr)
	gwlog.Infof("pprof http://%s/debug/pprof/ ... available commands: ", listenAddr)
	gwlog.Infof("    go tool pprof http://%s/debug/pprof/heap", listenAddr)
	gwlog.Infof("    go tool pprof http://%s/debug/pprof/profile", listenAddr)

	http.Handle("/metrics", opmon.Handler())

	go func() {
		if err := http.ListenAndServe(listenAddr, nil); err != nil {
			gwlog.Errorf("http server stopped: %v", err)
		}
	}()
}

// SetupGWLog setup the gwsync log system
func SetupGWLog(component string, logLevel string, logFile string, logStderr bool) {
	gwlog.SetSource(component)
	gwlog.Infof("Set log level to %s", logLevel)
	gwlog.SetLevel(gwlog.ParseLevel(logLevel))

	outputs := make([]string, 0, 2)
	if logFile != "" {
		outputs = append(outputs, logFile)
	}
	if logStderr {
		outputs = append(outputs, "stderr")
	}
	gwlog.SetOutput(outputs)
}
