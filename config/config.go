// Package config holds sharecore settings: documented defaults, a YAML
// settings file, and SHARECORE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/opd-ai/sharecore/coordinator"
	"github.com/opd-ai/sharecore/limits"
	"github.com/opd-ai/sharecore/transfer"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultListenPort is the TCP port a server binds unless configured.
const DefaultListenPort = 36330

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as "250ms" in YAML.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Plain integers are read as
// nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the complete node configuration.
type Config struct {
	ListenPort        int      `yaml:"listen_port"`
	SharedDirectories []string `yaml:"shared_directories"`
	ServerAddress     string   `yaml:"server_address,omitempty"`
	DownloadDirectory string   `yaml:"download_directory"`

	ChunkSize        int      `yaml:"chunk_size"`
	ProgressInterval Duration `yaml:"progress_interval"`
	SpeedWindow      Duration `yaml:"speed_window"`
	GraceDelay       Duration `yaml:"grace_delay"`
	RetentionWindow  Duration `yaml:"retention_window"`
	// IOTimeout of zero disables read and write deadlines.
	IOTimeout        Duration `yaml:"io_timeout"`
	DialTimeout      Duration `yaml:"dial_timeout"`

	Proxy            string `yaml:"proxy,omitempty"`
	MetricsAddress   string `yaml:"metrics_address,omitempty"`
	Announce         bool   `yaml:"announce"`
	WatchDirectories bool   `yaml:"watch_directories"`
	LogLevel         string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenPort:        DefaultListenPort,
		SharedDirectories: []string{},
		DownloadDirectory: ".",
		ChunkSize:         limits.DefaultChunkSize,
		ProgressInterval:  Duration(transfer.DefaultProgressInterval),
		SpeedWindow:       Duration(transfer.DefaultSpeedWindow),
		GraceDelay:        Duration(coordinator.DefaultGraceDelay),
		RetentionWindow:   Duration(coordinator.DefaultRetentionWindow),
		IOTimeout:         Duration(transfer.DefaultIOTimeout),
		DialTimeout:       Duration(transfer.DefaultDialTimeout),
		WatchDirectories:  true,
		LogLevel:          "info",
	}
}

// DefaultPath returns the per-user settings file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "sharecore", "settings.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     path,
		}).Debug("No settings file, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if cfg.SharedDirectories == nil {
		cfg.SharedDirectories = []string{}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Load",
		"path":        path,
		"listen_port": cfg.ListenPort,
		"shared_dirs": len(cfg.SharedDirectories),
	}).Info("Settings loaded")
	return cfg, nil
}

// Save writes the configuration to path, replacing it atomically.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Config.Save",
		"path":     path,
	}).Info("Settings saved")
	return nil
}

// Validate reports the first out-of-range value.
func (c *Config) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d out of range", ErrInvalidConfig, c.ListenPort)
	}
	if err := limits.ValidateChunkSize(c.ChunkSize); err != nil {
		return fmt.Errorf("%w: chunk size: %v", ErrInvalidConfig, err)
	}
	durations := []struct {
		name string
		d    Duration
	}{
		{"progress interval", c.ProgressInterval},
		{"speed window", c.SpeedWindow},
		{"grace delay", c.GraceDelay},
		{"retention window", c.RetentionWindow},
		{"dial timeout", c.DialTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, d.name)
		}
	}
	if c.IOTimeout < 0 {
		return fmt.Errorf("%w: io timeout cannot be negative", ErrInvalidConfig)
	}
	if c.ServerAddress != "" {
		if _, _, err := net.SplitHostPort(c.ServerAddress); err != nil {
			return fmt.Errorf("%w: server address: %v", ErrInvalidConfig, err)
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ListenAddr returns the address a server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.ListenPort))
}

// TransferOptions builds worker options, including the proxy dialer.
func (c *Config) TransferOptions() (transfer.Options, error) {
	dialer, err := transfer.NewDialer(c.Proxy, c.DialTimeout.Std())
	if err != nil {
		return transfer.Options{}, err
	}
	ioTimeout := c.IOTimeout.Std()
	if ioTimeout == 0 {
		ioTimeout = -1
	}
	return transfer.Options{
		ChunkSize:        c.ChunkSize,
		ProgressInterval: c.ProgressInterval.Std(),
		SpeedWindow:      c.SpeedWindow.Std(),
		IOTimeout:        ioTimeout,
		DialTimeout:      c.DialTimeout.Std(),
		Dialer:           dialer,
	}, nil
}

// CoordinatorOptions builds coordinator options.
func (c *Config) CoordinatorOptions() coordinator.Options {
	return coordinator.Options{
		GraceDelay:      c.GraceDelay.Std(),
		RetentionWindow: c.RetentionWindow.Std(),
	}
}
