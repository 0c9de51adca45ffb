package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazz-dev/livewatch/internal/detector"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ChannelConfig identifies the watched channel.
type ChannelConfig struct {
	URL string `yaml:"url"`
}

// DeviceConfig describes the streaming device that gets rebooted.
type DeviceConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	KeyFile    string   `yaml:"key_file"`
	KnownHosts string   `yaml:"known_hosts"`
	Command    string   `yaml:"command"`
	Timeout    Duration `yaml:"timeout"`
}

// PolicyConfig holds the failure threshold and check cadence.
type PolicyConfig struct {
	MaxFailures int      `yaml:"max_failures"`
	Interval    Duration `yaml:"interval"`
}

// DetectConfig holds live detection settings.
type DetectConfig struct {
	Timeout     Duration `yaml:"timeout"`
	YtDlpPath   string   `yaml:"ytdlp_path"`
	PlaylistEnd int      `yaml:"playlist_end"`
	Strategies  []string `yaml:"strategies"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// ServerConfig holds HTTP server settings. An empty address disables the server.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig holds storage settings. An empty path disables tick history.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Config is the root application configuration.
type Config struct {
	Channel ChannelConfig `yaml:"channel"`
	Device  DeviceConfig  `yaml:"device"`
	Policy  PolicyConfig  `yaml:"policy"`
	Detect  DetectConfig  `yaml:"detect"`
	DryRun  bool          `yaml:"dry_run"`
	Log     LogConfig     `yaml:"log"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

const (
	DefaultMaxFailures   = 3
	DefaultInterval      = 10 * time.Minute
	DefaultDeviceTimeout = 30 * time.Second
	DefaultCommand       = "sudo reboot now"
	maxDetectTimeout     = 2 * time.Minute
)

// ErrMissingRequired is returned when a required setting is absent.
var ErrMissingRequired = errors.New("missing required configuration")

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %q: %w", path, err)
	}
	return nil
}

// Requirement selects which required settings a load insists on.
type Requirement int

const (
	// RequireChannel demands the channel URL.
	RequireChannel Requirement = 1 << iota
	// RequireDevice demands the SSH host and credentials.
	RequireDevice

	RequireNone Requirement = 0
	RequireAll              = RequireChannel | RequireDevice
)

// Load reads the optional YAML file at path, overlays environment variables,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	return LoadFor(path, RequireAll)
}

// LoadFor is Load with only the required settings named by req enforced.
// Commands that never reach the device use it to skip the SSH settings.
func LoadFor(path string, req Requirement) (*Config, error) {
	return load(path, os.LookupEnv, req)
}

func load(path string, lookup func(string) (string, bool), req Requirement) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg, req); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("YOUTUBE_CHANNEL_URL", &cfg.Channel.URL)
	str("SSH_HOST", &cfg.Device.Host)
	str("SSH_USERNAME", &cfg.Device.Username)
	str("SSH_PASSWORD", &cfg.Device.Password)
	str("SSH_KEY_FILE", &cfg.Device.KeyFile)
	str("SSH_KNOWN_HOSTS", &cfg.Device.KnownHosts)
	str("REBOOT_COMMAND", &cfg.Device.Command)
	str("YTDLP_PATH", &cfg.Detect.YtDlpPath)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LISTEN_ADDRESS", &cfg.Server.Address)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("ALERT_WEBHOOK_URL", &cfg.Alerts.Webhook.URL)

	if v, ok := lookup("SSH_PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SSH_PORT: invalid port %q: %w", v, err)
		}
		cfg.Device.Port = n
	}
	if v, ok := lookup("MAX_CONSECUTIVE_FAILURES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONSECUTIVE_FAILURES: invalid integer %q: %w", v, err)
		}
		cfg.Policy.MaxFailures = n
	}
	if v, ok := lookup("CHECK_INTERVAL"); ok && v != "" {
		d, err := parseMinutes(v)
		if err != nil {
			return fmt.Errorf("CHECK_INTERVAL: %w", err)
		}
		cfg.Policy.Interval = Duration{d}
	}
	if v, ok := lookup("DETECT_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DETECT_TIMEOUT: invalid duration %q: %w", v, err)
		}
		cfg.Detect.Timeout = Duration{d}
	}
	if v, ok := lookup("DRY_RUN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRY_RUN: invalid boolean %q: %w", v, err)
		}
		cfg.DryRun = b
	}
	return nil
}

// parseMinutes accepts a bare integer number of minutes or a Go duration.
func parseMinutes(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: want minutes or a duration", v)
	}
	return d, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Policy.MaxFailures == 0 {
		cfg.Policy.MaxFailures = DefaultMaxFailures
	}
	if cfg.Policy.Interval.Duration == 0 {
		cfg.Policy.Interval = Duration{DefaultInterval}
	}
	if cfg.Device.Port == 0 {
		cfg.Device.Port = 22
	}
	if cfg.Device.Command == "" {
		cfg.Device.Command = DefaultCommand
	}
	if cfg.Device.Timeout.Duration == 0 {
		cfg.Device.Timeout = Duration{DefaultDeviceTimeout}
	}
	if cfg.Detect.Timeout.Duration == 0 {
		t := cfg.Policy.Interval.Duration / 2
		if t > maxDetectTimeout || t <= 0 {
			t = maxDetectTimeout
		}
		cfg.Detect.Timeout = Duration{t}
	}
	if cfg.Detect.YtDlpPath == "" {
		cfg.Detect.YtDlpPath = "yt-dlp"
	}
	if cfg.Detect.PlaylistEnd == 0 {
		cfg.Detect.PlaylistEnd = 10
	}
	if len(cfg.Detect.Strategies) == 0 {
		cfg.Detect.Strategies = slices.Clone(detector.StrategyNames)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Alerts.Webhook.Cooldown.Duration == 0 {
		cfg.Alerts.Webhook.Cooldown = Duration{30 * time.Minute}
	}
}

func validate(cfg *Config, req Requirement) error {
	var missing []string
	if req&RequireChannel != 0 && cfg.Channel.URL == "" {
		missing = append(missing, "YOUTUBE_CHANNEL_URL")
	}
	if req&RequireDevice != 0 {
		if cfg.Device.Host == "" {
			missing = append(missing, "SSH_HOST")
		}
		if cfg.Device.Username == "" {
			missing = append(missing, "SSH_USERNAME")
		}
		if cfg.Device.Password == "" && cfg.Device.KeyFile == "" {
			missing = append(missing, "SSH_PASSWORD")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	if cfg.Policy.MaxFailures < 1 {
		return fmt.Errorf("policy: max_failures must be positive, got %d", cfg.Policy.MaxFailures)
	}
	if cfg.Policy.Interval.Duration <= 0 {
		return fmt.Errorf("policy: interval must be positive, got %s", cfg.Policy.Interval)
	}
	if cfg.Device.Port < 1 || cfg.Device.Port > 65535 {
		return fmt.Errorf("device: invalid port %d", cfg.Device.Port)
	}
	if cfg.Device.Timeout.Duration < 0 || cfg.Detect.Timeout.Duration < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if cfg.Detect.PlaylistEnd < 0 {
		return fmt.Errorf("detect: playlist_end must not be negative, got %d", cfg.Detect.PlaylistEnd)
	}
	for _, s := range cfg.Detect.Strategies {
		if !slices.Contains(detector.StrategyNames, s) {
			return fmt.Errorf("detect: invalid strategy %q (must be one of %s)", s, strings.Join(detector.StrategyNames, ", "))
		}
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: invalid level %q (must be debug, info, warn, or error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log: invalid format %q (must be text or json)", cfg.Log.Format)
	}
	return nil
}
