// internal/config/config.go
//
// This package loads the scheduler configuration. Values come from
// flowgraph.yaml (or .toml/.json) in the working directory or the file given
// with --config, FLOWGRAPH_* environment variables, and built-in defaults.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kingrea/flowgraph/internal/task"
)

const (
	// FileName is the config file name searched for, without extension.
	FileName  = "flowgraph"
	envPrefix = "FLOWGRAPH"

	DefaultWorkingDir = "flowgraph-runs"
	DefaultUnitsDir   = "units"
	DefaultCapacity   = 1
	DefaultInterval   = 5 * time.Second
)

// Config holds the runtime configuration for flowgraph.
type Config struct {
	WorkingDir   string            `mapstructure:"working_dir" validate:"required"`
	UnitsDirs    []string          `mapstructure:"units_dirs"`
	Capacity     int               `mapstructure:"capacity" validate:"gte=1"`
	PollInterval time.Duration     `mapstructure:"poll_interval" validate:"gt=0"`
	LogLevel     string            `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogConsole   bool              `mapstructure:"log_console"`
	EnvFile      string            `mapstructure:"env_file"`
	Vars         map[string]string `mapstructure:"env"`
	Paths        map[string]string `mapstructure:"paths" validate:"dive,required"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

var validate = validator.New()

// Load reads configuration. An explicit file must exist; otherwise dir is
// searched and a missing file means defaults. Relative paths are resolved
// against the directory of the file, or dir when there is none.
func Load(file, dir string) (*Config, error) {
	v := viper.New()
	v.SetDefault("working_dir", DefaultWorkingDir)
	v.SetDefault("units_dirs", []string{DefaultUnitsDir})
	v.SetDefault("capacity", DefaultCapacity)
	v.SetDefault("poll_interval", DefaultInterval)
	v.SetDefault("log_level", "info")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName(FileName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	base := dir
	if cfg.File != "" {
		base = filepath.Dir(cfg.File)
	}
	if err := cfg.resolve(base); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve(base string) error {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.WorkingDir = abs(c.WorkingDir)
	for i, d := range c.UnitsDirs {
		c.UnitsDirs[i] = abs(d)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	// viper lowercases map keys; lookups below do the same.
	vars := map[string]string{}
	if c.EnvFile != "" {
		c.EnvFile = abs(c.EnvFile)
		loaded, err := godotenv.Read(c.EnvFile)
		if err != nil {
			return fmt.Errorf("config: env_file: %w", err)
		}
		for k, val := range loaded {
			vars[strings.ToLower(k)] = val
		}
	}
	for k, val := range c.Vars {
		vars[strings.ToLower(k)] = val
	}
	c.Vars = vars
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s fails %q (value: %v)", e.Namespace(), e.Tag(), e.Value()))
		}
		return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Env returns the template environment backed by this configuration.
func (c *Config) Env() task.Env { return env{cfg: c} }

type env struct{ cfg *Config }

// Raw looks up the env table first, then the process environment.
func (e env) Raw(key string) (string, error) {
	if value, ok := e.cfg.Vars[strings.ToLower(key)]; ok {
		return value, nil
	}
	if value, ok := os.LookupEnv(key); ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: env %s is neither configured nor set", task.ErrUnresolvedTemplate, key)
}

// Path maps an executor to its configured location.
func (e env) Path(executable string) string {
	if p, ok := e.cfg.Paths[strings.ToLower(executable)]; ok {
		return p
	}
	return executable
}
