// Package config handles orange.toml server configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "orange.toml"

// EnvServer names the environment variable clients read the server address
// from, as host[:port].
const EnvServer = "ORANGE_SERVER"

const (
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 9465
	DefaultSubject = "orange"
	DefaultGroup   = "orange-executors"
)

// Config represents an orange.toml file.
type Config struct {
	Server   Server   `toml:"server"`
	Executor Executor `toml:"executor"`
	Registry Registry `toml:"registry"`
	Queue    Queue    `toml:"queue"`
	Archive  Archive  `toml:"archive"`
	Log      Log      `toml:"log"`

	// Path is the file the configuration was loaded from, empty for defaults.
	Path string `toml:"-"`
}

// Server configures the HTTP listener.
type Server struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Executor configures the worker pool.
type Executor struct {
	Workers     int      `toml:"workers"`
	WaitTimeout Duration `toml:"wait_timeout"`
}

// Registry configures reference eviction. A zero TTL keeps references until
// they are released.
type Registry struct {
	TTL           Duration `toml:"ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
}

// Queue configures the NATS binding. An empty URL disables it.
type Queue struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
	Group   string `toml:"group"`
}

// Archive configures the result archive. An empty path disables it.
type Archive struct {
	Path string `toml:"path"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.fillDefaults()
	return c
}

// Load parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find an orange.toml file and loads
// it. It returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) fillDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Executor.Workers == 0 {
		c.Executor.Workers = 1
	}
	if c.Executor.WaitTimeout.Duration == 0 {
		c.Executor.WaitTimeout.Duration = 30 * time.Second
	}
	if c.Registry.TTL.Duration > 0 && c.Registry.SweepInterval.Duration == 0 {
		c.Registry.SweepInterval.Duration = c.Registry.TTL.Duration / 2
	}
	if c.Queue.Subject == "" {
		c.Queue.Subject = DefaultSubject
	}
	if c.Queue.Group == "" {
		c.Queue.Group = DefaultGroup
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Executor.Workers < 0:
		return fmt.Errorf("executor.workers must not be negative")
	case c.Executor.WaitTimeout.Duration < 0:
		return fmt.Errorf("executor.wait_timeout must not be negative")
	case c.Registry.TTL.Duration < 0 || c.Registry.SweepInterval.Duration < 0:
		return fmt.Errorf("registry durations must not be negative")
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ServerAddress returns the host:port clients connect to, from ORANGE_SERVER
// or the defaults.
func ServerAddress() string {
	return ParseServerAddress(os.Getenv(EnvServer))
}

// ParseServerAddress completes host[:port] with the default host and port.
func ParseServerAddress(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return net.JoinHostPort(DefaultHost, strconv.Itoa(DefaultPort))
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return net.JoinHostPort(s, strconv.Itoa(DefaultPort))
	}
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}
	return net.JoinHostPort(host, port)
}
