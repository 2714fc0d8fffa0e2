// Package config resolves the command line settings.
//
// Values are taken, in order of precedence, from command line flags,
// PARCEL_* environment variables, the YAML config file and built-in
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is the directory name used below the user config and cache directories.
	AppName = "parcel"

	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"

	// ConfigFileExt is the config file extension.
	ConfigFileExt = "yaml"

	// EnvPrefix prefixes environment variables, e.g. PARCEL_DATA_PATH.
	EnvPrefix = "PARCEL"

	// DefaultRepositoryURL is the repository used when none is configured.
	DefaultRepositoryURL = "https://index.parcel.dev"
)

// Output formats.
const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Setting keys. Flags use the same names with dashes.
const (
	KeyName           = "name"
	KeyVersion        = "version"
	KeyDataPath       = "data_path"
	KeyRepositoryURL  = "repository_url"
	KeyObjectEndpoint = "object_endpoint"
	KeyLogLevel       = "log_level"
	KeyOutput         = "output"
)

// ErrInvalidSetting is returned when a setting has an unusable value.
var ErrInvalidSetting = errors.New("parcel: invalid setting")

// Settings are the resolved command line settings.
type Settings struct {
	AppName        string `mapstructure:"name"`
	AppVersion     string `mapstructure:"version"`
	DataPath       string `mapstructure:"data_path"`
	RepositoryURL  string `mapstructure:"repository_url"`
	ObjectEndpoint string `mapstructure:"object_endpoint"`
	LogLevel       string `mapstructure:"log_level"`
	Output         string `mapstructure:"output"`

	// ConfigFile is the config file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

// Level returns the parsed log level.
func (s *Settings) Level() log.Level {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// LoadOptions controls where settings are read from.
type LoadOptions struct {
	// ConfigFile selects a config file exclusively. It must exist.
	ConfigFile string

	// ConfigDir overrides the directory searched for config.yaml.
	ConfigDir string

	// Flags are bound to the setting keys, replacing dashes with underscores.
	Flags *pflag.FlagSet
}

// Dir returns the user config directory for parcel, honoring
// $XDG_CONFIG_HOME.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultDataPath returns the data path used when none is configured:
// the user cache directory, one level deeper per application.
func DefaultDataPath(appName string) (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache directory: %w", err)
	}
	path := filepath.Join(dir, AppName)
	if appName != "" {
		path = filepath.Join(path, appName)
	}
	return path, nil
}

// Load resolves the settings.
func Load(opts LoadOptions) (*Settings, error) {
	v := viper.New()
	v.SetDefault(KeyName, "")
	v.SetDefault(KeyVersion, "")
	v.SetDefault(KeyDataPath, "")
	v.SetDefault(KeyRepositoryURL, DefaultRepositoryURL)
	v.SetDefault(KeyObjectEndpoint, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyOutput, OutputJSON)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for _, key := range []string{KeyName, KeyVersion, KeyDataPath, KeyRepositoryURL, KeyObjectEndpoint, KeyLogLevel, KeyOutput} {
			if f := opts.Flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	path, err := configFile(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(ConfigFileExt)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	s.ConfigFile = path

	if s.DataPath == "" {
		if s.DataPath, err = DefaultDataPath(s.AppName); err != nil {
			return nil, err
		}
	}
	if s.DataPath, err = ExpandPath(s.DataPath); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func configFile(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return opts.ConfigFile, nil
	}
	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(path); err != nil {
		return "", nil //nolint:nilerr // a missing config file selects the defaults
	}
	return path, nil
}

// Validate checks the output format and log level.
func (s *Settings) Validate() error {
	switch s.Output {
	case OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("%w: output %q (want %s or %s)", ErrInvalidSetting, s.Output, OutputJSON, OutputYAML)
	}
	if _, err := log.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidSetting, s.LogLevel)
	}
	return nil
}

// ExpandPath expands environment variables and a leading "~" and returns
// an absolute path.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", path, err)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
