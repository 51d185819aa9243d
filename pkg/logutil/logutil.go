package logutil

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

// Config carries the logging fields shared by every binary's config.
type Config struct {
	Level  string `toml:"log-level" json:"log-level"`
	File   string `toml:"log-file" json:"log-file"`
	Format string `toml:"log-format" json:"log-format"`
}

// Adjust fills defaults in place.
func (c *Config) Adjust() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// InitLogger sets up the global logger used via log.L(). It must be called
// once at process start, before any actor is spawned.
func InitLogger(cfg *Config) error {
	cfg.Adjust()
	logger, props, err := log.InitLogger(&log.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		File: log.FileLogConfig{
			Filename: cfg.File,
		},
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(logger, props)
	return nil
}
