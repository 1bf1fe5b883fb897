package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Config holds all application configuration
type Config struct {
	// File paths
	StateDir      string
	ChangeLogFile string
	LogFile       string

	// Command execution
	CommandTimeout time.Duration
	SettleDelay    time.Duration

	// Feature flags
	Debug bool
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	stateDir := defaultStateDir()
	return &Config{
		StateDir:       stateDir,
		ChangeLogFile:  filepath.Join(stateDir, "changes.log"),
		LogFile:        filepath.Join(stateDir, "macshift.log"),
		CommandTimeout: 15 * time.Second,
		SettleDelay:    1 * time.Second,
		Debug:          false,
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "macshift")
	}
	return ".macshift"
}

// LoadFromFile loads configuration from INI file
func (c *Config) LoadFromFile(filename string) error {
	cfg, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, filename)
	if err != nil {
		log.Debugf("Skipping config file %s: %s", filename, err)
		return err
	}

	section := cfg.Section("")
	c.StateDir = section.Key("statedir").MustString(c.StateDir)
	c.ChangeLogFile = section.Key("changelogfile").MustString(c.ChangeLogFile)
	c.LogFile = section.Key("logfile").MustString(c.LogFile)
	c.CommandTimeout = section.Key("commandtimeout").MustDuration(c.CommandTimeout)
	c.SettleDelay = section.Key("settledelay").MustDuration(c.SettleDelay)
	c.Debug = section.Key("debug").MustBool(c.Debug)

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("MACSHIFT_STATEDIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("MACSHIFT_CHANGELOG"); v != "" {
		c.ChangeLogFile = v
	}
	if v := os.Getenv("MACSHIFT_LOGFILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("MACSHIFT_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CommandTimeout = d
		}
	}
	if v := os.Getenv("MACSHIFT_DEBUG"); v != "" {
		c.Debug, _ = strconv.ParseBool(v)
	}
}

// New creates a new configuration instance
func New(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	// Load from file first
	cfg.LoadFromFile(configFile)

	// Override with environment variables
	cfg.LoadFromEnv()

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, err
	}

	return cfg, nil
}
