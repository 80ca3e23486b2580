package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/sharecore/limits"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHARECORE_"

// Bounds for duration overrides.
const (
	MinInterval = time.Millisecond
	MaxInterval = 24 * time.Hour
)

// ApplyEnvironment overrides settings from SHARECORE_* variables. Values
// that fail to parse or fall out of bounds are logged and ignored.
func (c *Config) ApplyEnvironment() {
	parseIntSetting("LISTEN_PORT", &c.ListenPort, 0, 65535)
	parseIntSetting("CHUNK_SIZE", &c.ChunkSize, limits.MinChunkSize, limits.MaxChunkSize)

	parseDurationSetting("PROGRESS_INTERVAL", &c.ProgressInterval)
	parseDurationSetting("SPEED_WINDOW", &c.SpeedWindow)
	parseDurationSetting("GRACE_DELAY", &c.GraceDelay)
	parseDurationSetting("RETENTION_WINDOW", &c.RetentionWindow)
	parseDurationSetting("IO_TIMEOUT", &c.IOTimeout)
	parseDurationSetting("DIAL_TIMEOUT", &c.DialTimeout)

	parseBoolSetting("ANNOUNCE", &c.Announce)
	parseBoolSetting("WATCH_DIRECTORIES", &c.WatchDirectories)

	parseStringSetting("SERVER_ADDRESS", &c.ServerAddress)
	parseStringSetting("DOWNLOAD_DIRECTORY", &c.DownloadDirectory)
	parseStringSetting("PROXY", &c.Proxy)
	parseStringSetting("METRICS_ADDRESS", &c.MetricsAddress)
	parseStringSetting("LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv(EnvPrefix + "SHARED_DIRECTORIES"); v != "" {
		var dirs []string
		for _, d := range filepath.SplitList(v) {
			if d = strings.TrimSpace(d); d != "" {
				dirs = append(dirs, d)
			}
		}
		c.SharedDirectories = dirs
	}
}

func parseIntSetting(name string, target *int, min, max int) {
	envVar := EnvPrefix + name
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *target,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if v < min || v > max {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       v,
			"min":         min,
			"max":         max,
			"using_value": *target,
		}).Warn("Environment variable out of bounds, using default")
		return
	}
	*target = v
}

func parseDurationSetting(name string, target *Duration) {
	envVar := EnvPrefix + name
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseDurationSetting",
			"env_var":     envVar,
			"value":       raw,
			"error":       err.Error(),
			"using_value": target.Std().String(),
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if v < MinInterval || v > MaxInterval {
		logrus.WithFields(logrus.Fields{
			"function":    "parseDurationSetting",
			"env_var":     envVar,
			"value":       v.String(),
			"min":         MinInterval.String(),
			"max":         MaxInterval.String(),
			"using_value": target.Std().String(),
		}).Warn("Environment variable out of bounds, using default")
		return
	}
	*target = Duration(v)
}

func parseBoolSetting(name string, target *bool) {
	envVar := EnvPrefix + name
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseBoolSetting",
			"env_var":     envVar,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *target,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	*target = v
}

func parseStringSetting(name string, target *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*target = v
	}
}
