// Package config loads the YAML configuration shared by the blinkdb server
// and bench binaries.
package config

import (
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sushant-115/blinkdb/pkg/logger"
	"github.com/sushant-115/blinkdb/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	Tree      TreeConfig       `yaml:"tree"`
	Server    ServerConfig     `yaml:"server"`
	Bench     BenchConfig      `yaml:"bench"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// TreeConfig holds the index parameters.
type TreeConfig struct {
	// MinOrder is the B-link minimum order; nodes hold up to 2*MinOrder-1 keys.
	MinOrder int `yaml:"min_order"`
	// LatchTimeout bounds each latch wait of a request. 0 waits for the
	// request's own deadline only.
	LatchTimeout time.Duration `yaml:"latch_timeout"`
}

// ServerConfig holds the line protocol listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// RequestsPerSecond limits each connection. 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// RequestTimeout bounds a single request's tree operation.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxScanResults caps a SCAN without an explicit limit.
	MaxScanResults int       `yaml:"max_scan_results"`
	TLS            TLSConfig `yaml:"tls"`
}

// TLSConfig enables TLS on the listener when CertFile is set. A ClientCAFile
// additionally requires client certificates.
type TLSConfig struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"`
}

// Enabled reports whether the listener should speak TLS.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != ""
}

// BenchConfig drives cmd/blinkdb_bench.
type BenchConfig struct {
	// Target is "inproc" or a server address.
	Target     string  `yaml:"target"`
	Workers    int     `yaml:"workers"`
	Operations int     `yaml:"operations"`
	KeySpace   int     `yaml:"key_space"`
	ReadRatio  float64 `yaml:"read_ratio"`
	// Rate caps total operations per second. 0 runs unthrottled.
	Rate     float64 `yaml:"rate"`
	PoolSize int     `yaml:"pool_size"`
}

// Default returns a configuration usable as is.
func Default() Config {
	return Config{
		Tree: TreeConfig{MinOrder: 32},
		Server: ServerConfig{
			ListenAddr:     "localhost:7070",
			Burst:          1,
			IdleTimeout:    5 * time.Minute,
			RequestTimeout: 5 * time.Second,
			MaxScanResults: 1000,
		},
		Bench: BenchConfig{
			Target:     "inproc",
			Workers:    8,
			Operations: 100000,
			KeySpace:   50000,
			ReadRatio:  0.8,
			PoolSize:   8,
		},
		Logger: logger.Config{Level: "info", Format: "json", OutputFile: "stdout"},
		Telemetry: telemetry.Config{
			ServiceName:      "blinkdb",
			PrometheusPort:   9091,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks ranges the binaries depend on.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Mark(errors.Newf(format, args...), ErrInvalidConfig)
	}
	switch {
	case c.Tree.MinOrder < 2:
		return invalid("tree.min_order must be at least 2, got %d", c.Tree.MinOrder)
	case c.Tree.LatchTimeout < 0:
		return invalid("tree.latch_timeout must not be negative")
	case c.Server.ListenAddr == "":
		return invalid("server.listen_addr is required")
	case c.Server.RequestsPerSecond < 0:
		return invalid("server.requests_per_second must not be negative")
	case c.Server.RequestsPerSecond > 0 && c.Server.Burst < 1:
		return invalid("server.burst must be at least 1 when rate limiting")
	case c.Server.MaxScanResults < 1:
		return invalid("server.max_scan_results must be positive")
	case (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == ""):
		return invalid("server.tls.cert_file and server.tls.key_file must be set together")
	case c.Server.TLS.ClientCAFile != "" && !c.Server.TLS.Enabled():
		return invalid("server.tls.client_ca_file requires a server certificate")
	case c.Bench.Workers < 1:
		return invalid("bench.workers must be positive")
	case c.Bench.KeySpace < 1:
		return invalid("bench.key_space must be positive")
	case c.Bench.ReadRatio < 0 || c.Bench.ReadRatio > 1:
		return invalid("bench.read_ratio must be within [0, 1], got %v", c.Bench.ReadRatio)
	}
	return nil
}
