package main

import (
	"context"
	"crypto/tls"
	"path"
	"syscall"
	"time"

	"github.com/pkg/errors"
	timer "github.com/xiaonanln/goTimer"
	"github.com/xiaonanln/gwsync/engine/binutil"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/config"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/opmon"
	"github.com/xiaonanln/gwsync/engine/post"
	"github.com/xiaonanln/gwsync/engine/session"
	"github.com/xiaonanln/gwsync/engine/transport"
	"github.com/xiaonanln/gwsync/engine/transport/kcptransport"
	"github.com/xiaonanln/gwsync/engine/transport/quictransport"
)

func main() {
	parseArgs()

	if args.runInDaemonMode {
		daemoncontext := binutil.Daemonize(args.pidFile)
		defer daemoncontext.Release()
	}

	if args.configFile != "" {
		config.SetConfigFile(args.configFile)
	}

	cfg := config.Get()
	logLevel := args.logLevel
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	binutil.SetupGWLog("gwsync", logLevel, cfg.Log.File, cfg.Log.Stderr)
	gwlog.Debugf("gwsync config: \n%s", config.DumpPretty(cfg))

	if args.listenAddr != "" {
		cfg.Peer.ListenAddr = args.listenAddr
	}

	binutil.SetupHTTPServer(cfg.Debug.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Debug.CPUSampleInterval > 0 {
		if err := opmon.StartCPUSampler(ctx, cfg.Debug.CPUSampleInterval); err != nil {
			gwlog.Errorf("start cpu sampler failed: %v", err)
		}
	}

	local, ln, dial, err := setupTransport(&cfg.Peer)
	if err != nil {
		gwlog.Fatalf("setup %s transport failed: %v", cfg.Peer.Transport, err)
	}

	mgr := session.NewManager(local, managerOptions(&cfg.Peer))
	gwlog.Infof("%s listening on %s (%s)", mgr, ln.Addr(), cfg.Peer.Transport)

	setupSignals(func() {
		cancel()
		mgr.Close()
		ln.Close()
	})

	go func() {
		if err := mgr.Serve(ctx, ln); err != nil {
			gwlog.Errorf("%s: serve failed: %v", mgr, err)
			signalChan <- syscall.SIGTERM
		}
	}()
	for _, addr := range cfg.Peer.Connect {
		go mgr.Connect(ctx, dial, addr)
	}

	if args.demo {
		startDemo(mgr)
	}
	mainRoutine(mgr, time.Second/time.Duration(cfg.Peer.Tickrate))
}

// mainRoutine handles events, timers and posted callbacks of the process in one goroutine
func mainRoutine(mgr *session.Manager, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-mgr.Events():
			handleEvent(ev)
		case <-ticker.C:
			timer.Tick()
		}
		post.Tick()
	}
}

func managerOptions(pc *config.PeerConfig) session.Options {
	opts := session.DefaultOptions()
	opts.Tickrate = uint8(pc.Tickrate)
	opts.MaxTickrate = uint8(pc.MaxTickrate)
	opts.IFrameIntervalTicks = pc.IFrameIntervalTicks
	opts.PFrameApplyPacing = pc.PFramePacing
	return opts
}

func setupTransport(pc *config.PeerConfig) (common.PeerID, transport.Listener, transport.Dialer, error) {
	switch pc.Transport {
	case config.TransportKCP:
		local := common.GenPeerID()
		if pc.ID != "" {
			local = common.PeerIDFromString(pc.ID)
		}
		ln, err := kcptransport.Listen(pc.ListenAddr, local)
		if err != nil {
			return local, nil, nil, err
		}
		return local, ln, kcptransport.Dialer(local), nil
	default:
		cert, err := loadCertificate(pc)
		if err != nil {
			return common.PeerID{}, nil, nil, err
		}
		local := quictransport.PeerIDOf(cert)
		ln, err := quictransport.Listen(pc.ListenAddr, cert)
		if err != nil {
			return local, nil, nil, err
		}
		return local, ln, quictransport.Dialer(cert), nil
	}
}

func loadCertificate(pc *config.PeerConfig) (tls.Certificate, error) {
	if pc.TLSCertificate == "" {
		gwlog.Infof("no tls certificate configured, generating a self-signed one")
		return quictransport.GenerateCertificate()
	}

	cfgdir := config.GetConfigDir()
	certFile := path.Join(cfgdir, pc.TLSCertificate)
	keyFile := path.Join(cfgdir, pc.TLSKey)
	cert, err := quictransport.LoadCertificate(certFile, keyFile)
	return cert, errors.WithMessagef(err, "load %s", certFile)
}

func handleEvent(ev session.Event) {
	switch ev.Type {
	case session.AgentPose, session.ObjectPose:
		if ev.Keyframe {
			gwlog.Debugf("%s", ev)
		}
	default:
		gwlog.Infof("%s", ev)
	}
}
