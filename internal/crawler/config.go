package crawler

import (
	"errors"
	"time"
)

// Controller defaults used when a field is left zero.
const (
	DefaultCategory   = "mesin-cuci"
	DefaultPageSize   = 60
	DefaultMaxRecords = 1000
	DefaultPageDelay  = 2 * time.Second
)

// ControllerConfig captures the knobs that shape one crawl run.
// It is decoupled from Viper so the controller can be tested without config files.
type ControllerConfig struct {
	Category   string
	PageSize   int
	MaxRecords int
	PageDelay  time.Duration
}

// withDefaults fills zero values. A negative PageDelay disables the inter-page pause.
func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.Category == "" {
		c.Category = DefaultCategory
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxRecords == 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.PageDelay == 0 {
		c.PageDelay = DefaultPageDelay
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
	return c
}

// Validate reports configuration values the controller cannot work with.
func (c ControllerConfig) Validate() error {
	if c.PageSize < 0 {
		return errors.New("page size must not be negative")
	}
	if c.MaxRecords < 0 {
		return errors.New("max records must not be negative")
	}
	return nil
}
