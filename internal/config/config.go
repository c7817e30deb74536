// Package config handles configuration loading using viper.
//
// Values are layered, lowest first: built-in defaults, the optional YAML
// file, RXPROBE_* environment variables, then command line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/rxprobe/internal/core"
	"firestige.xyz/rxprobe/internal/core/sentinel"
	"firestige.xyz/rxprobe/internal/log"
)

// Consumer selection for the receive loop.
const (
	ModeProbe   = "probe"
	ModeDissect = "dissect"
	ModeBoth    = "both"
)

const EnvPrefix = "RXPROBE"

// Config is the complete probe configuration.
type Config struct {
	Log     log.Config    `mapstructure:"log" yaml:"log"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Probe   ProbeConfig   `mapstructure:"probe" yaml:"probe"`
	Hexdump HexdumpConfig `mapstructure:"hexdump" yaml:"hexdump"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// CaptureConfig contains receive channel settings.
type CaptureConfig struct {
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	Blocking     bool          `mapstructure:"blocking" yaml:"blocking"`
	SnapLen      int           `mapstructure:"snap_len" yaml:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"` // per queue
	PollTimeout  time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	BPFFilter    string        `mapstructure:"bpf_filter" yaml:"bpf_filter"`
	FanoutID     uint16        `mapstructure:"fanout_id" yaml:"fanout_id"` // base, the interface index is added
}

// ProbeConfig selects the consumers and the sentinel location.
type ProbeConfig struct {
	Mode           string `mapstructure:"mode" yaml:"mode"`
	SentinelOffset int    `mapstructure:"sentinel_offset" yaml:"sentinel_offset"`
	SentinelValue  uint32 `mapstructure:"sentinel_value" yaml:"sentinel_value"`
}

// Dissect reports whether dissection lines are printed.
func (p ProbeConfig) Dissect() bool {
	return p.Mode == ModeDissect || p.Mode == ModeBoth
}

// Sentinel reports whether the sentinel probe runs.
func (p ProbeConfig) Sentinel() bool {
	return p.Mode == ModeProbe || p.Mode == ModeBoth
}

// HexdumpConfig controls the raw packet dump file.
type HexdumpConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Filename  string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"batch-size":     "capture.batch_size",
	"blocking":       "capture.blocking",
	"snap-len":       "capture.snap_len",
	"buffer-size":    "capture.buffer_size_mb",
	"poll-timeout":   "capture.poll_timeout",
	"filter":         "capture.bpf_filter",
	"fanout-id":      "capture.fanout_id",
	"mode":           "probe.mode",
	"offset":         "probe.sentinel_offset",
	"sentinel":       "probe.sentinel_value",
	"hexdump":        "hexdump.enabled",
	"hexdump-file":   "hexdump.filename",
	"metrics":        "metrics.enabled",
	"metrics-listen": "metrics.listen",
}

// RegisterFlags defines the flags that override configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.Int("batch-size", 128, "maximum packets per receive call")
	fs.Bool("blocking", true, "block in receive until packets arrive")
	fs.Int("snap-len", 2048, "bytes captured per packet")
	fs.Int("buffer-size", 4, "ring buffer size per queue in MB")
	fs.Duration("poll-timeout", 100*time.Millisecond, "ring poll timeout, also the wait of a non-blocking receive")
	fs.String("filter", "", "BPF filter expression")
	fs.Uint16("fanout-id", 0x4200, "fanout group base id")
	fs.String("mode", ModeProbe, "consumers to run: probe, dissect or both")
	fs.Int("offset", sentinel.DefaultOffset, "sentinel offset in bytes")
	fs.Uint32("sentinel", sentinel.DefaultExpected, "expected sentinel value")
	fs.Bool("hexdump", false, "dump raw packets to the hexdump file")
	fs.String("hexdump-file", "packet.txt", "hexdump output file, replaced on start")
	fs.Bool("metrics", false, "serve Prometheus metrics")
	fs.String("metrics-listen", ":9091", "metrics listen address")
}

// Load reads configuration from path (optional), the environment and the
// flags registered on fs (optional), then validates it.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pattern", log.DefaultPattern)
	v.SetDefault("log.time", log.DefaultTime)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.filename", "/var/log/rxprobe/rxprobe.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.compress", true)

	// Capture defaults
	v.SetDefault("capture.batch_size", 128)
	v.SetDefault("capture.blocking", true)
	v.SetDefault("capture.snap_len", 2048)
	v.SetDefault("capture.buffer_size_mb", 4)
	v.SetDefault("capture.poll_timeout", "100ms")
	v.SetDefault("capture.bpf_filter", "")
	v.SetDefault("capture.fanout_id", 0x4200)

	// Probe defaults
	v.SetDefault("probe.mode", ModeProbe)
	v.SetDefault("probe.sentinel_offset", sentinel.DefaultOffset)
	v.SetDefault("probe.sentinel_value", sentinel.DefaultExpected)

	// Hexdump defaults
	v.SetDefault("hexdump.enabled", false)
	v.SetDefault("hexdump.filename", "packet.txt")
	v.SetDefault("hexdump.max_size_mb", 100)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9091")
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return invalid("log.level %q (must be trace/debug/info/warn/error)", c.Log.Level)
	}
	if c.Log.File.Enabled && c.Log.File.Filename == "" {
		return invalid("log.file.filename is required when log.file.enabled=true")
	}

	if c.Capture.BatchSize <= 0 || c.Capture.BatchSize > 4096 {
		return invalid("capture.batch_size %d (must be 1..4096)", c.Capture.BatchSize)
	}
	if c.Capture.SnapLen <= 0 || c.Capture.SnapLen > 262144 {
		return invalid("capture.snap_len %d (must be 1..262144)", c.Capture.SnapLen)
	}
	if c.Capture.BufferSizeMB <= 0 {
		return invalid("capture.buffer_size_mb %d (must be positive)", c.Capture.BufferSizeMB)
	}
	if c.Capture.PollTimeout <= 0 {
		return invalid("capture.poll_timeout %s (must be positive)", c.Capture.PollTimeout)
	}

	switch c.Probe.Mode {
	case ModeProbe, ModeDissect, ModeBoth:
	default:
		return invalid("probe.mode %q (must be probe/dissect/both)", c.Probe.Mode)
	}
	if c.Probe.SentinelOffset < 0 {
		return invalid("probe.sentinel_offset %d (must not be negative)", c.Probe.SentinelOffset)
	}

	if c.Hexdump.Enabled && c.Hexdump.Filename == "" {
		return invalid("hexdump.filename is required when hexdump.enabled=true")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// YAML renders the effective configuration in the file format Load reads.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
