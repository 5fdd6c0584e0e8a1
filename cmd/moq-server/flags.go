package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// fileConfig is the optional -config YAML layer: values here become this
// process's flag defaults, so an explicit command-line flag still wins.
// Grounded on vinq1911-nonchalant's go.mod carrying gopkg.in/yaml.v3 for
// its own config file, a dependency the teacher itself never needed.
type fileConfig struct {
	Listen         string   `yaml:"listen"`
	HTTPListen     string   `yaml:"http_listen"`
	LogLevel       string   `yaml:"log_level"`
	CertPath       string   `yaml:"cert"`
	KeyPath        string   `yaml:"key"`
	SelfSign       bool     `yaml:"self_sign"`
	ALPNs          []string `yaml:"alpn"`
	Versions       []string `yaml:"version_supported"`
	KeySetFile     string   `yaml:"jwt_keyset"`
	FetchRateLimit float64  `yaml:"fetch_rate_limit"`
}

// scanConfigFlag finds -config/--config's value without running it through
// flag.Parse, so an unrelated unknown flag earlier in args can't abort the
// scan before the real FlagSet gets a chance to report it properly.
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

// cliConfig holds user-supplied flag values prior to translation into the
// server components' own Config structs.
type cliConfig struct {
	listenAddr     string
	httpListenAddr string
	logLevel       string
	showVersion    bool

	certPath string
	keyPath  string
	selfSign bool

	alpns    []string
	versions []uint64

	keySetFile string

	fetchRateLimit float64
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("moq-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var fc fileConfig
	if path := scanConfigFlag(args); path != "" {
		var err error
		fc, err = loadFileConfig(path)
		if err != nil {
			return nil, err
		}
	}

	cfg := &cliConfig{}
	var alpns stringSliceFlag
	var versions stringSliceFlag

	var configPath string
	fs.StringVar(&configPath, "config", "", "YAML config file supplying flag defaults (overridden by any flag given explicitly)")

	fs.StringVar(&cfg.listenAddr, "listen", defaultString(fc.Listen, ":4433"), "QUIC listen address")
	fs.StringVar(&cfg.httpListenAddr, "http-listen", fc.HTTPListen, "HTTP companion listen address (empty disables it)")
	fs.StringVar(&cfg.logLevel, "log-level", defaultString(fc.LogLevel, "info"), "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.StringVar(&cfg.certPath, "cert", fc.CertPath, "TLS certificate file")
	fs.StringVar(&cfg.keyPath, "key", fc.KeyPath, "TLS private key file")
	fs.BoolVar(&cfg.selfSign, "self-sign", fc.SelfSign, "Generate an ephemeral self-signed certificate if -cert/-key are not set")

	fs.Var(&alpns, "alpn", "ALPN token this server accepts (can be specified multiple times)")
	fs.Var(&versions, "version-supported", "Wire version this server supports, offered in SETUP (can be specified multiple times)")

	fs.StringVar(&cfg.keySetFile, "jwt-keyset", fc.KeySetFile, "Key set file used to verify session auth tokens (empty disables auth)")
	fs.Float64Var(&cfg.fetchRateLimit, "fetch-rate-limit", defaultFloat(fc.FetchRateLimit, 50), "Per-peer /fetch requests per second")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if len(alpns) == 0 {
		alpns = fc.ALPNs
	}
	if len(versions) == 0 {
		versions = fc.Versions
	}

	cfg.alpns = alpns
	if len(cfg.alpns) == 0 {
		cfg.alpns = []string{"moq-go-01"}
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

	if cfg.certPath != "" && cfg.keyPath == "" || cfg.certPath == "" && cfg.keyPath != "" {
		return nil, errors.New("-cert and -key must both be set, or neither")
	}
	if cfg.certPath == "" && !cfg.selfSign {
		return nil, errors.New("either -cert/-key or -self-sign must be given")
	}

	return cfg, nil
}

func defaultString(fileValue, fallback string) string {
	if fileValue != "" {
		return fileValue
	}
	return fallback
}

func defaultFloat(fileValue, fallback float64) float64 {
	if fileValue != 0 {
		return fileValue
	}
	return fallback
}

// stringSliceFlag implements flag.Value for repeatable string flags,
// the teacher's idiom (cmd/rtmp-server/flags.go's stringSliceFlag).
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ", ") }

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}
