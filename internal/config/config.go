package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvWorkerHosts = "WORKER_HOSTS"
	EnvWorkersFile = "AURORA_WORKERS_FILE"

	DefaultVersion        = "1"
	DefaultWorkerTimeout  = 5 * time.Second
	DefaultAggregatorAddr = "0.0.0.0:8000"
	DefaultNodeAgentAddr  = "0.0.0.0:8080"
)

// Common holds settings shared by the aggregator and the node agent.
type Common struct {
	ListenAddr      string
	GRPCHealthAddr  string
	Version         string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogJSON         bool
}

type Aggregator struct {
	Common
	// WorkersKey names the environment variable holding the comma separated
	// worker list. It is read again on every request.
	WorkersKey    string
	WorkersFile   string
	StaticWorkers []string
	WorkerTimeout time.Duration
}

type NodeAgent struct {
	Common
	Hostname           string
	LibvirtURI         string
	HealthInterval     time.Duration
	ReconnectInterval  time.Duration
	MaxReconnectJitter time.Duration
}

func LoadAggregator() (Aggregator, error) {
	cfg := Aggregator{
		Common:        loadCommon(DefaultAggregatorAddr),
		WorkersKey:    EnvWorkerHosts,
		WorkersFile:   env(EnvWorkersFile, ""),
		WorkerTimeout: envDuration("AURORA_WORKER_TIMEOUT", DefaultWorkerTimeout),
	}
	if err := cfg.Validate(); err != nil {
		return Aggregator{}, err
	}
	return cfg, nil
}

func LoadNodeAgent() (NodeAgent, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	cfg := NodeAgent{
		Common:             loadCommon(DefaultNodeAgentAddr),
		Hostname:           env("HOSTNAME", hostname),
		LibvirtURI:         env("AURORA_LIBVIRT_URI", "qemu:///system"),
		HealthInterval:     envDuration("AURORA_HEALTH_INTERVAL", 10*time.Second),
		ReconnectInterval:  envDuration("AURORA_RECONNECT_INTERVAL", 4*time.Second),
		MaxReconnectJitter: envDuration("AURORA_RECONNECT_MAX_JITTER", 900*time.Millisecond),
	}
	if err := cfg.Validate(); err != nil {
		return NodeAgent{}, err
	}
	return cfg, nil
}

func loadCommon(defaultAddr string) Common {
	return Common{
		ListenAddr:      env("AURORA_LISTEN_ADDR", defaultAddr),
		GRPCHealthAddr:  env("AURORA_GRPC_HEALTH_ADDR", ""),
		Version:         strings.TrimPrefix(env("VERSION", DefaultVersion), "v"),
		ShutdownTimeout: envDuration("AURORA_SHUTDOWN_TIMEOUT", 20*time.Second),
		LogLevel:        strings.ToLower(env("AURORA_LOG_LEVEL", "info")),
		LogJSON:         envBool("AURORA_LOG_JSON", false),
	}
}

func (c Common) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("AURORA_LISTEN_ADDR is required")
	}
	if strings.TrimSpace(c.Version) == "" {
		return errors.New("VERSION must not be empty")
	}
	if strings.ContainsAny(c.Version, "/ ") {
		return fmt.Errorf("VERSION %q must not contain slashes or spaces", c.Version)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("AURORA_SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}

// APIPrefix is the path prefix every aggregator route is mounted under.
func (c Common) APIPrefix() string {
	return "/v" + c.Version
}

func (c Aggregator) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.WorkerTimeout <= 0 {
		return errors.New("AURORA_WORKER_TIMEOUT must be > 0")
	}
	if c.WorkersKey == "" && c.WorkersFile == "" && len(c.StaticWorkers) == 0 {
		return errors.New("a worker source is required")
	}
	return nil
}

func (c NodeAgent) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Hostname) == "" {
		return errors.New("HOSTNAME is required")
	}
	if c.LibvirtURI == "" {
		return errors.New("AURORA_LIBVIRT_URI is required")
	}
	if c.HealthInterval <= 0 || c.ReconnectInterval <= 0 {
		return errors.New("health and reconnect intervals must be > 0")
	}
	return nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare numbers are seconds
		if secs, convErr := strconv.ParseFloat(v, 64); convErr == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		return fallback
	}
	return d
}
