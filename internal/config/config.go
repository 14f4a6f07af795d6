// Package config loads capture profiles using viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/framecap/internal/driver"
	"firestige.xyz/framecap/internal/log"
	"firestige.xyz/framecap/pkg/models"
)

// ErrConfigInvalid wraps every validation failure.
var ErrConfigInvalid = errors.New("framecap: invalid configuration")

// Config is the top-level profile, found under the `framecap:` root key.
type Config struct {
	Capture  CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	Transmit TransmitConfig   `mapstructure:"transmit" yaml:"transmit"`
	Log      log.LoggerConfig `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// CaptureConfig describes the source a handle opens and how its loop runs.
type CaptureConfig struct {
	Source      string            `mapstructure:"source" yaml:"source"`
	Kind        driver.Kind       `mapstructure:"kind" yaml:"kind"`
	SnapLen     int               `mapstructure:"snap_len" yaml:"snap_len"`
	ReadTimeout time.Duration     `mapstructure:"read_timeout" yaml:"read_timeout"`
	Promiscuous bool              `mapstructure:"promiscuous" yaml:"promiscuous"`
	Monitor     bool              `mapstructure:"monitor" yaml:"monitor"`
	Immediate   bool              `mapstructure:"immediate" yaml:"immediate"`
	BufferSize  int               `mapstructure:"buffer_size" yaml:"buffer_size"`
	Resolution  models.Resolution `mapstructure:"resolution" yaml:"resolution"`
	Filter      string            `mapstructure:"filter" yaml:"filter"`
	Remote      *RemoteConfig     `mapstructure:"remote" yaml:"remote,omitempty"`

	// JoinTimeout bounds StopCapture; it must exceed twice ReadTimeout.
	JoinTimeout   time.Duration `mapstructure:"join_timeout" yaml:"join_timeout"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	DispatchBatch int           `mapstructure:"dispatch_batch" yaml:"dispatch_batch"`

	// Driver carries backend specific settings, see driver.*Params.
	Driver map[string]interface{} `mapstructure:"driver" yaml:"driver,omitempty"`
}

// RemoteConfig carries remote capture credentials.
type RemoteConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

// TransmitConfig configures send queues.
type TransmitConfig struct {
	QueueSize     int                 `mapstructure:"queue_size" yaml:"queue_size"`
	Mode          models.TransmitMode `mapstructure:"mode" yaml:"mode"`
	SpinThreshold time.Duration       `mapstructure:"spin_threshold" yaml:"spin_threshold"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type configRoot struct {
	Framecap Config `mapstructure:"framecap"`
}

// Load reads a profile from path. Environment variables override file values
// using the FRAMECAP_ prefix, e.g. FRAMECAP_CAPTURE_SNAP_LEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(v)
}

// LoadReader reads a profile in the given format ("yaml", "json", "toml").
func LoadReader(r io.Reader, format string) (*Config, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return load(v)
}

// Default returns the profile used when no file is given.
func Default() *Config {
	v := viper.New()
	cfg, _ := load(v)
	return cfg
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var root configRoot
	err := v.Unmarshal(&root, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Framecap
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults uses the "framecap." prefix to match the YAML root key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("framecap.capture.source", "any")
	v.SetDefault("framecap.capture.kind", "live")
	v.SetDefault("framecap.capture.snap_len", driver.DefaultSnapLen)
	v.SetDefault("framecap.capture.read_timeout", "500ms")
	v.SetDefault("framecap.capture.promiscuous", true)
	v.SetDefault("framecap.capture.resolution", "microsecond")
	v.SetDefault("framecap.capture.join_timeout", "2s")
	v.SetDefault("framecap.capture.poll_timeout", "200ms")
	v.SetDefault("framecap.capture.dispatch_batch", driver.DefaultBatch)

	v.SetDefault("framecap.transmit.queue_size", 1<<20)
	v.SetDefault("framecap.transmit.mode", "normal")
	v.SetDefault("framecap.transmit.spin_threshold", "20ms")

	v.SetDefault("framecap.log.level", "info")
	v.SetDefault("framecap.log.pattern", log.DefaultPattern)
	v.SetDefault("framecap.log.time", log.DefaultTime)

	v.SetDefault("framecap.metrics.enabled", false)
	v.SetDefault("framecap.metrics.listen", ":9091")
	v.SetDefault("framecap.metrics.path", "/metrics")
}

// Validate checks field ranges.
func (cfg *Config) Validate() error {
	c := cfg.Capture
	if c.Source == "" && c.Kind != driver.KindReader {
		return fmt.Errorf("%w: capture.source is required", ErrConfigInvalid)
	}
	if c.SnapLen <= 0 {
		return fmt.Errorf("%w: capture.snap_len must be positive, got %d", ErrConfigInvalid, c.SnapLen)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: capture.read_timeout must be positive", ErrConfigInvalid)
	}
	if c.JoinTimeout <= 2*c.ReadTimeout {
		return fmt.Errorf("%w: capture.join_timeout (%s) must exceed twice capture.read_timeout (%s)",
			ErrConfigInvalid, c.JoinTimeout, c.ReadTimeout)
	}
	if c.DispatchBatch <= 0 {
		return fmt.Errorf("%w: capture.dispatch_batch must be positive", ErrConfigInvalid)
	}
	if cfg.Transmit.QueueSize <= 0 {
		return fmt.Errorf("%w: transmit.queue_size must be positive", ErrConfigInvalid)
	}
	if cfg.Transmit.SpinThreshold < 0 {
		return fmt.Errorf("%w: transmit.spin_threshold must not be negative", ErrConfigInvalid)
	}
	return nil
}

// WriteYAML renders the effective profile under its root key. Passwords are omitted.
func (cfg *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*Config{"framecap": cfg}); err != nil {
		return err
	}
	return enc.Close()
}
