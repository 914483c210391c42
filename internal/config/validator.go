package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers gateway-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// key_by: validates "ip", "static:<value>" or "header:<name>"
	if err := v.RegisterValidation("key_by", validateKeyBy); err != nil {
		return fmt.Errorf("failed to register key_by validator: %w", err)
	}
	return nil
}

// validateKeyBy validates the key_by field of a rule.
// Valid values: "ip", "static:<value>", "header:<name>"
func validateKeyBy(fl validator.FieldLevel) bool {
	keyBy := fl.Field().String()

	if keyBy == "ip" {
		return true
	}
	if v, ok := strings.CutPrefix(keyBy, "static:"); ok {
		return v != ""
	}
	if name, ok := strings.CutPrefix(keyBy, "header:"); ok {
		return name != ""
	}
	return false
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: durations and rule periods.
	if err := c.validateDurations(); err != nil {
		return err
	}
	if err := c.validateRulePeriods(); err != nil {
		return err
	}
	if err := c.validateRuleNames(); err != nil {
		return err
	}

	return nil
}

// validateDurations ensures all string duration fields parse.
func (c *Config) validateDurations() error {
	fields := map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"upstream.timeout":        c.Upstream.Timeout,
		"redis.dial_timeout":      c.Redis.DialTimeout,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, value)
		}
	}
	return nil
}

// validateRulePeriods ensures every rule period parses and is at least one
// second. The wire encoding carries whole seconds only.
func (c *Config) validateRulePeriods() error {
	for i, rule := range c.Rules {
		period, err := time.ParseDuration(rule.Period)
		if err != nil {
			return fmt.Errorf("rules[%d] (%s): invalid period %q", i, rule.Name, rule.Period)
		}
		if period < time.Second {
			return fmt.Errorf("rules[%d] (%s): period %s is below one second", i, rule.Name, rule.Period)
		}
	}
	return nil
}

// validateRuleNames ensures rule names are unique. Names label metrics and
// logs, so duplicates would make decisions indistinguishable.
func (c *Config) validateRuleNames() error {
	seen := make(map[string]struct{}, len(c.Rules))
	for i, rule := range c.Rules {
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("rules[%d]: duplicate rule name %q", i, rule.Name)
		}
		seen[rule.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "key_by":
		return fmt.Sprintf("%s must be 'ip', 'static:<value>' or 'header:<name>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
