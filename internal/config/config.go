// Package config loads vkcompute settings from a YAML file, the environment
// and defaults.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/hellhand/vkcompute/compute"
	"github.com/hellhand/vkcompute/driver/vkdriver"
)

// Config is the full configuration.
type Config struct {
	Device  DeviceConfig       `mapstructure:"device"`
	Pool    compute.PoolLimits `mapstructure:"pool"`
	Logging LoggingConfig      `mapstructure:"logging"`
}

type DeviceConfig struct {
	ApplicationName string        `mapstructure:"application_name"`
	Validation      bool          `mapstructure:"validation"`
	Loader          string        `mapstructure:"loader"`
	Interop         bool          `mapstructure:"interop"`
	FenceTimeout    time.Duration `mapstructure:"fence_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ApplicationName: "vkcompute",
			Loader:          string(vkdriver.LoaderDefault),
			FenceTimeout:    vkdriver.DefaultFenceTimeout,
		},
		Pool: compute.DefaultPoolLimits(),
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads cfgFile, or config.yaml from $HOME/.vkcompute and the working
// directory when cfgFile is empty. A missing default file is not an error.
// Environment variables use the VKCOMPUTE_ prefix with dots replaced by
// underscores; VK_VALIDATION is also honoured for device.validation.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".vkcompute"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("VKCOMPUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("device.validation", "VKCOMPUTE_DEVICE_VALIDATION", "VK_VALIDATION"); err != nil {
		return nil, errors.Wrap(err, "bind validation env")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	loaders := []string{string(vkdriver.LoaderDefault), string(vkdriver.LoaderGLFW)}
	if !slices.Contains(loaders, c.Device.Loader) {
		return errors.Newf("device.loader must be one of: %v", loaders)
	}
	if c.Device.FenceTimeout <= 0 {
		return errors.New("device.fence_timeout must be positive")
	}
	if c.Pool.MaxSets == 0 {
		return errors.New("pool.max_sets must be at least 1")
	}
	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Logging.Level) {
		return errors.Newf("logging.level must be one of: %v", levels)
	}
	return nil
}

// DeviceOptions converts the device section into discovery options.
func (c *Config) DeviceOptions(log *logrus.Entry) vkdriver.Options {
	return vkdriver.Options{
		ApplicationName:  c.Device.ApplicationName,
		EnableValidation: c.Device.Validation,
		Loader:           vkdriver.Loader(c.Device.Loader),
		Interop:          c.Device.Interop,
		FenceTimeout:     c.Device.FenceTimeout,
		Logger:           log,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("device.application_name", cfg.Device.ApplicationName)
	v.SetDefault("device.validation", cfg.Device.Validation)
	v.SetDefault("device.loader", cfg.Device.Loader)
	v.SetDefault("device.interop", cfg.Device.Interop)
	v.SetDefault("device.fence_timeout", cfg.Device.FenceTimeout)

	v.SetDefault("pool.storage_buffers", cfg.Pool.StorageBuffers)
	v.SetDefault("pool.uniform_buffers", cfg.Pool.UniformBuffers)
	v.SetDefault("pool.max_sets", cfg.Pool.MaxSets)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
}
