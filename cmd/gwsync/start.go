package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/post"
)

var (
	args struct {
		configFile      string
		logLevel        string
		listenAddr      string
		runInDaemonMode bool
		pidFile         string
		demo            bool
	}
	signalChan = make(chan os.Signal, 1)
)

func parseArgs() {
	flag.StringVar(&args.configFile, "configfile", "", "set config file path")
	flag.StringVar(&args.logLevel, "log", "", "set log level, will override log level in config")
	flag.StringVar(&args.listenAddr, "listen-addr", "", "set listen address, overriding listen_addr in config file")
	flag.BoolVar(&args.runInDaemonMode, "d", false, "run in daemon mode")
	flag.StringVar(&args.pidFile, "pidfile", "gwsync.pid", "pid file written in daemon mode")
	flag.BoolVar(&args.demo, "demo", false, "move the local agent and a grabbed object around a circle")
	flag.Parse()
}

func setupSignals(terminate func()) {
	gwlog.Infof("Setup signals ...")
	signal.Ignore(syscall.SIGPIPE, syscall.SIGHUP)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			sig := <-signalChan
			if sig == syscall.SIGINT || sig == syscall.SIGTERM {
				gwlog.Infof("Terminating gwsync ...")
				terminated := make(chan struct{})
				post.Post(func() {
					terminate()
					close(terminated)
				})
				<-terminated
				gwlog.Infof("gwsync terminated gracefully.")
				gwlog.Sync()
				os.Exit(0)
			} else {
				gwlog.Errorf("unexpected signal: %s", sig)
			}
		}
	}()
}
