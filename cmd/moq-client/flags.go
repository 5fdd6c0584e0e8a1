package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// fileConfig is the optional -config YAML layer, mirroring cmd/moq-server's:
// values here become this process's flag defaults, so an explicit
// command-line flag still wins.
type fileConfig struct {
	Addr       string `yaml:"addr"`
	Transport  string `yaml:"transport"`
	Broadcast  string `yaml:"broadcast"`
	Track      string `yaml:"track"`
	Prefix     string `yaml:"prefix"`
	MaxLatency string `yaml:"max_latency"`
	LogLevel   string `yaml:"log_level"`
}

func scanConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func defaultString(fileValue, fallback string) string {
	if fileValue != "" {
		return fileValue
	}
	return fallback
}

// cliConfig holds user-supplied flag values prior to translation into the
// client's own handshake/publish/consume calls.
type cliConfig struct {
	addr      string
	transport string // "quic" or "ws"
	insecure  bool

	mode      string // "publish", "subscribe", or "announce"
	broadcast string
	track     string
	priority  uint

	publishFrom string // "-" for stdin, otherwise a file path
	subscribeTo string // "-" for stdout, otherwise a file path

	prefix     string
	maxLatency time.Duration
	ordered    bool

	logLevel    string
	showVersion bool

	versions []uint64
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("moq-client", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var fc fileConfig
	if path := scanConfigFlag(args); path != "" {
		var err error
		fc, err = loadFileConfig(path)
		if err != nil {
			return nil, err
		}
	}
	fileMaxLatency := 2 * time.Second
	if fc.MaxLatency != "" {
		d, err := time.ParseDuration(fc.MaxLatency)
		if err != nil {
			return nil, fmt.Errorf("invalid config max_latency %q: %w", fc.MaxLatency, err)
		}
		fileMaxLatency = d
	}

	cfg := &cliConfig{}
	var versions stringSliceFlag

	var configPath string
	fs.StringVar(&configPath, "config", "", "YAML config file supplying flag defaults (overridden by any flag given explicitly)")

	fs.StringVar(&cfg.addr, "addr", defaultString(fc.Addr, "localhost:4433"), "Server address")
	fs.StringVar(&cfg.transport, "transport", defaultString(fc.Transport, "quic"), "Transport: quic|ws")
	fs.BoolVar(&cfg.insecure, "insecure", false, "Skip TLS certificate verification")

	fs.StringVar(&cfg.mode, "mode", "subscribe", "Mode: publish|subscribe|announce")
	fs.StringVar(&cfg.broadcast, "broadcast", fc.Broadcast, "Broadcast path (e.g. rooms/1)")
	fs.StringVar(&cfg.track, "track", defaultString(fc.Track, "video"), "Track name")
	fs.UintVar(&cfg.priority, "priority", 128, "Track priority (0-255)")

	fs.StringVar(&cfg.publishFrom, "in", "-", "Input source for -mode=publish: '-' for stdin, or a file path")
	fs.StringVar(&cfg.subscribeTo, "out", "-", "Output sink for -mode=subscribe: '-' for stdout, or a file path")

	fs.StringVar(&cfg.prefix, "prefix", fc.Prefix, "Announce prefix for -mode=announce")
	fs.DurationVar(&cfg.maxLatency, "max-latency", fileMaxLatency, "Max group latency before skipping ahead, for -mode=subscribe")
	fs.BoolVar(&cfg.ordered, "ordered", true, "Set the ordered flag in SUBSCRIBE (groups are still read with raw NextGroup)")

	fs.Var(&versions, "version-supported", "Wire version this client offers in SETUP (can be specified multiple times)")
	fs.StringVar(&cfg.logLevel, "log-level", defaultString(fc.LogLevel, "info"), "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, v := range versions {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid -version-supported %q: %w", v, err)
		}
		cfg.versions = append(cfg.versions, n)
	}
	if len(cfg.versions) == 0 {
		cfg.versions = []uint64{1}
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	switch cfg.transport {
	case "quic", "ws":
	default:
		return nil, fmt.Errorf("invalid -transport %q, must be quic or ws", cfg.transport)
	}

	if cfg.priority > 255 {
		return nil, errors.New("-priority must be between 0 and 255")
	}

	switch cfg.mode {
	case "publish", "subscribe":
		if cfg.broadcast == "" {
			return nil, fmt.Errorf("-mode=%s requires -broadcast", cfg.mode)
		}
	case "announce":
		if cfg.prefix == "" {
			return nil, errors.New("-mode=announce requires -prefix")
		}
	default:
		return nil, fmt.Errorf("invalid -mode %q, must be publish, subscribe, or announce", cfg.mode)
	}

	return cfg, nil
}

// stringSliceFlag implements flag.Value for repeatable string flags, the
// teacher's idiom (cmd/rtmp-server/flags.go's stringSliceFlag).
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ", ") }

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}
