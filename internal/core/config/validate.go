package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

var moduleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks that the configuration is structurally valid.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("data_dir", c.DataDir, notEmpty),
		criterio.Run("server.addr", c.Server.Addr, notEmpty),
		criterio.Run("server.default_workspace", c.Server.DefaultWorkspace, notEmpty),
		criterio.Run("engine.timezone", c.Engine.Timezone, validTimezone),
		c.validateDurations(),
		c.validateDatabase(),
		c.validateModules(),
		c.validateHandlers(),
	)
}

// ValidateDeep performs validation including file system access checks. The
// configPath argument specifies the config file location to validate (empty string
// skips the config file check).
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	catalog := c.Catalog()
	for id := range c.Handlers {
		if id != FallbackHandler && !catalog.Contains(id) {
			warnings = append(warnings, ValidationWarning{
				Category: "Handlers",
				Item:     id,
				Message:  "handler is configured for a module outside the catalog and will never run",
			})
		}
	}

	if !c.Engine.Enabled {
		warnings = append(warnings, ValidationWarning{
			Category: "Engine",
			Message:  "engine disabled: schedule and threshold rules only fire via `autopilot tick`",
		})
	}

	return warnings
}

func notEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}

func validTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown timezone %q", tz)
	}
	return nil
}

func (c *Config) validateDurations() error {
	var errs criterio.FieldErrorsBuilder
	if c.Engine.TickInterval < time.Second {
		errs = errs.Append("engine.tick_interval", fmt.Errorf("must be at least 1s"))
	}
	if c.Engine.HandlerTimeout <= 0 {
		errs = errs.Append("engine.handler_timeout", fmt.Errorf("must be positive"))
	}
	if c.Server.ReadTimeout < 0 {
		errs = errs.Append("server.read_timeout", fmt.Errorf("must not be negative"))
	}
	if c.Server.WriteTimeout < 0 {
		errs = errs.Append("server.write_timeout", fmt.Errorf("must not be negative"))
	}
	return errs.ToError()
}

func (c *Config) validateDatabase() error {
	var errs criterio.FieldErrorsBuilder
	if c.Database.MaxOpenConns < 1 {
		errs = errs.Append("database.max_open_conns", fmt.Errorf("must be at least 1"))
	}
	if c.Database.MaxIdleConns < 0 {
		errs = errs.Append("database.max_idle_conns", fmt.Errorf("must not be negative"))
	}
	if c.Database.BusyTimeout < 0 {
		errs = errs.Append("database.busy_timeout", fmt.Errorf("must not be negative"))
	}
	return errs.ToError()
}

func (c *Config) validateModules() error {
	var errs criterio.FieldErrorsBuilder
	seen := make(map[string]bool, len(c.Modules))
	for i, id := range c.Modules {
		field := fmt.Sprintf("modules[%d]", i)
		if !moduleIDPattern.MatchString(id) {
			errs = errs.Append(field, fmt.Errorf("invalid module id %q: use lowercase letters, digits and underscores", id))
			continue
		}
		if seen[id] {
			errs = errs.Append(field, fmt.Errorf("duplicate module id %q", id))
		}
		seen[id] = true
	}
	return errs.ToError()
}

func (c *Config) validateHandlers() error {
	var errs criterio.FieldErrorsBuilder
	for id, h := range c.Handlers {
		field := fmt.Sprintf("handlers[%q]", id)
		u, err := url.Parse(h.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = errs.Append(field+".url", fmt.Errorf("must be an absolute http(s) URL"))
		}
		if h.Timeout < 0 {
			errs = errs.Append(field+".timeout", fmt.Errorf("must not be negative"))
		}
	}
	return errs.ToError()
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}
