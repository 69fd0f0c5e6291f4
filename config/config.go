// Package config loads the builder's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/lager"
	"gopkg.in/yaml.v3"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/base_image"
	"github.com/aoinb/builder/layout"
	"github.com/aoinb/builder/nspawn"
)

const (
	DefaultListenNetwork = "tcp"
	DefaultListenAddr    = "127.0.0.1:7777"
	DefaultLogLevel      = "info"

	// DefaultBaseImageDir is where the base image lives under the work dir
	// when none is configured.
	DefaultBaseImageDir = "buildkit"
)

type Config struct {
	WorkDir   string `yaml:"work_dir"`
	BaseImage string `yaml:"base_image"`

	NspawnPath         string `yaml:"nspawn_path"`
	MaintenanceCommand string `yaml:"maintenance_command"`

	// CommandTimeout is a Go duration string; "0" or empty means commands
	// run until they exit.
	CommandTimeout string `yaml:"command_timeout"`

	ListenNetwork string `yaml:"listen_network"`
	ListenAddr    string `yaml:"listen_addr"`

	LogLevelName string `yaml:"log_level"`

	// Instances are created when the server starts.
	Instances []string `yaml:"instances"`
}

func Default() *Config {
	return &Config{
		NspawnPath:         nspawn.DefaultPath,
		MaintenanceCommand: base_image.DefaultMaintenanceCommand,
		ListenNetwork:      DefaultListenNetwork,
		ListenAddr:         DefaultListenAddr,
		LogLevelName:       DefaultLogLevel,
	}
}

// Load reads path over the defaults and validates the result. Every failure
// is a ConfigError.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, builder.ConfigError{Reason: fmt.Sprintf("reading %s: %s", path, err)}
	}

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, builder.ConfigError{Reason: fmt.Sprintf("parsing %s: %s", path, err)}
	}

	cfg.applyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseImage == "" && c.WorkDir != "" {
		c.BaseImage = filepath.Join(c.WorkDir, layout.MetadataDir, DefaultBaseImageDir)
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.WorkDir == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}

	if c.NspawnPath == "" {
		errs = append(errs, errors.New("nspawn_path must not be empty"))
	}

	if c.MaintenanceCommand == "" {
		errs = append(errs, errors.New("maintenance_command must not be empty"))
	}

	if _, err := c.Timeout(); err != nil {
		errs = append(errs, err)
	}

	if c.ListenNetwork != "tcp" && c.ListenNetwork != "unix" {
		errs = append(errs, fmt.Errorf("invalid listen_network: %q", c.ListenNetwork))
	}

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	for _, name := range c.Instances {
		if err := layout.ValidateName(name); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return builder.ConfigError{Reason: errors.Join(errs...).Error()}
	}

	return nil
}

func (c *Config) Timeout() (time.Duration, error) {
	if c.CommandTimeout == "" {
		return 0, nil
	}

	timeout, err := time.ParseDuration(c.CommandTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid command_timeout: %s", err)
	}

	if timeout < 0 {
		return 0, fmt.Errorf("invalid command_timeout: %s is negative", c.CommandTimeout)
	}

	return timeout, nil
}

func (c *Config) LogLevel() (lager.LogLevel, error) {
	return ParseLogLevel(c.LogLevelName)
}

func ParseLogLevel(name string) (lager.LogLevel, error) {
	switch name {
	case "debug":
		return lager.DEBUG, nil
	case "info", "":
		return lager.INFO, nil
	case "error":
		return lager.ERROR, nil
	case "fatal":
		return lager.FATAL, nil
	}

	return lager.INFO, fmt.Errorf("invalid log_level: %q", name)
}
