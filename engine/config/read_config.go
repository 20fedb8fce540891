package config

import (
	"encoding/json"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-ini/ini"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
)

const (
	_DEFAULT_CONFIG_FILE   = "gwsync.ini"
	_DEFAULT_LISTEN_ADDR   = "0.0.0.0:14000"
	_DEFAULT_TRANSPORT     = TransportQUIC
	_DEFAULT_LOG_LEVEL     = "info"
	_DEFAULT_LOG_FILE      = "gwsync.log"
	_CONNECT_KEY_PREFIX    = "connect_"
	_MAX_CONFIGURABLE_RATE = 255
)

// Transport names accepted by peer.transport
const (
	TransportQUIC = "quic"
	TransportKCP  = "kcp"
)

var (
	configFilePath = _DEFAULT_CONFIG_FILE
	gwsyncConfig   *GWSyncConfig
	configLock     sync.Mutex
)

// PeerConfig defines fields of the [peer] section
type PeerConfig struct {
	ID                  string // name hashed into the peer id of kcp peers, random if empty
	ListenAddr          string
	Transport           string
	Tickrate            int
	MaxTickrate         int
	IFrameIntervalTicks int
	PFramePacing        time.Duration
	TLSCertificate      string // self-signed certificate is generated if empty
	TLSKey              string
	Connect             []string // addresses of connect_<n> keys ordered by n
}

// LogConfig defines fields of the [log] section
type LogConfig struct {
	Level  string
	File   string
	Stderr bool
}

// DebugConfig defines fields of the [debug] section
type DebugConfig struct {
	HTTPAddr          string // metrics and pprof are served if not empty
	CPUSampleInterval time.Duration
}

// GWSyncConfig defines the total gwsync config file structure
type GWSyncConfig struct {
	Peer  PeerConfig
	Log   LogConfig
	Debug DebugConfig
}

// SetConfigFile sets the config file path (gwsync.ini by default)
func SetConfigFile(f string) {
	configFilePath = f
}

// GetConfigDir returns the directory of the config file
func GetConfigDir() string {
	dir, _ := path.Split(configFilePath)
	return dir
}

// GetConfigFilePath returns the config file path
func GetConfigFilePath() string {
	return configFilePath
}

// Get returns the total gwsync config
func Get() *GWSyncConfig {
	configLock.Lock()
	defer configLock.Unlock()
	if gwsyncConfig == nil {
		gwsyncConfig = readGWSyncConfig()
	}
	return gwsyncConfig
}

// Reload forces the whole config to be read again
func Reload() *GWSyncConfig {
	configLock.Lock()
	gwsyncConfig = nil
	configLock.Unlock()

	return Get()
}

// GetPeer returns the peer config
func GetPeer() *PeerConfig {
	return &Get().Peer
}

// GetLog returns the log config
func GetLog() *LogConfig {
	return &Get().Log
}

// GetDebug returns the debug config
func GetDebug() *DebugConfig {
	return &Get().Debug
}

// DumpPretty format config to string in pretty format
func DumpPretty(cfg interface{}) string {
	s, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err.Error()
	}
	return string(s)
}

func readGWSyncConfig() *GWSyncConfig {
	config := GWSyncConfig{}
	gwlog.Infof("Using config file: %s", configFilePath)
	iniFile, err := ini.Load(configFilePath)
	checkConfigError(err, "")

	readPeerConfig(iniFile.Section("peer"), &config.Peer)
	readLogConfig(iniFile.Section("log"), &config.Log)
	readDebugConfig(iniFile.Section("debug"), &config.Debug)

	for _, sec := range iniFile.Sections() {
		secName := strings.ToLower(sec.Name())
		if secName == "default" || secName == "peer" || secName == "log" || secName == "debug" {
			continue
		}
		gwlog.Errorf("unknown section: %s", secName)
	}

	validateConfig(&config)
	return &config
}

func readPeerConfig(sec *ini.Section, pc *PeerConfig) {
	pc.ListenAddr = _DEFAULT_LISTEN_ADDR
	pc.Transport = _DEFAULT_TRANSPORT
	pc.Tickrate = consts.DEFAULT_TICKRATE
	pc.MaxTickrate = consts.MAX_TICKRATE
	pc.IFrameIntervalTicks = consts.IFRAME_INTERVAL_TICKS
	pc.PFramePacing = consts.PFRAME_APPLY_PACING

	connects := map[int]string{}
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "id" {
			pc.ID = key.MustString(pc.ID)
		} else if name == "listen_addr" {
			pc.ListenAddr = key.MustString(pc.ListenAddr)
		} else if name == "transport" {
			pc.Transport = strings.ToLower(key.MustString(pc.Transport))
		} else if name == "tickrate" {
			pc.Tickrate = key.MustInt(pc.Tickrate)
		} else if name == "max_tickrate" {
			pc.MaxTickrate = key.MustInt(pc.MaxTickrate)
		} else if name == "iframe_interval_ticks" {
			pc.IFrameIntervalTicks = key.MustInt(pc.IFrameIntervalTicks)
		} else if name == "pframe_pacing_ms" {
			pc.PFramePacing = time.Millisecond * time.Duration(key.MustInt(int(pc.PFramePacing/time.Millisecond)))
		} else if name == "tls_certificate" {
			pc.TLSCertificate = key.MustString(pc.TLSCertificate)
		} else if name == "tls_key" {
			pc.TLSKey = key.MustString(pc.TLSKey)
		} else if strings.HasPrefix(name, _CONNECT_KEY_PREFIX) {
			n, err := strconv.Atoi(name[len(_CONNECT_KEY_PREFIX):])
			if err != nil {
				gwlog.Panicf("section %s has invalid connect key: %s", sec.Name(), key.Name())
			}
			connects[n] = key.String()
		} else {
			gwlog.Panicf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}

	ids := make([]int, 0, len(connects))
	for n := range connects {
		ids = append(ids, n)
	}
	sort.Ints(ids)
	pc.Connect = make([]string, 0, len(ids))
	for _, n := range ids {
		pc.Connect = append(pc.Connect, connects[n])
	}
}

func readLogConfig(sec *ini.Section, lc *LogConfig) {
	lc.Level = _DEFAULT_LOG_LEVEL
	lc.File = _DEFAULT_LOG_FILE
	lc.Stderr = true

	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "level" {
			lc.Level = key.MustString(lc.Level)
		} else if name == "file" {
			lc.File = key.String()
		} else if name == "stderr" {
			lc.Stderr = key.MustBool(lc.Stderr)
		} else {
			gwlog.Panicf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}
}

func readDebugConfig(sec *ini.Section, dc *DebugConfig) {
	dc.CPUSampleInterval = consts.CPU_SAMPLE_INTERVAL

	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "http_addr" {
			dc.HTTPAddr = key.MustString(dc.HTTPAddr)
		} else if name == "cpu_sample_interval" {
			dc.CPUSampleInterval = time.Second * time.Duration(key.MustInt(int(dc.CPUSampleInterval/time.Second)))
		} else {
			gwlog.Panicf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}
}

func checkConfigError(err error, msg string) {
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		gwlog.Panicf("read config error: %s", msg)
	}
}

func validateConfig(config *GWSyncConfig) {
	pc := &config.Peer
	if pc.Transport != TransportQUIC && pc.Transport != TransportKCP {
		gwlog.Panicf("peer.transport must be %s or %s, not %q", TransportQUIC, TransportKCP, pc.Transport)
	}
	if pc.Tickrate < 1 || pc.Tickrate > _MAX_CONFIGURABLE_RATE {
		gwlog.Panicf("peer.tickrate must be 1~%d, not %d", _MAX_CONFIGURABLE_RATE, pc.Tickrate)
	}
	if pc.MaxTickrate < 1 || pc.MaxTickrate > _MAX_CONFIGURABLE_RATE {
		gwlog.Panicf("peer.max_tickrate must be 1~%d, not %d", _MAX_CONFIGURABLE_RATE, pc.MaxTickrate)
	}
	if pc.IFrameIntervalTicks < 1 {
		gwlog.Panicf("peer.iframe_interval_ticks must be positive, not %d", pc.IFrameIntervalTicks)
	}
	if (pc.TLSCertificate == "") != (pc.TLSKey == "") {
		gwlog.Panicf("peer.tls_certificate and peer.tls_key must be set together")
	}
	if config.Debug.CPUSampleInterval < 0 {
		gwlog.Panicf("debug.cpu_sample_interval must not be negative")
	}
}
