package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/hdfive/pkg/engine"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that
// cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The default driver must be one of the standard set.
	reg, err := DefaultRegistry()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if !reg.Has(cfg.Engine.Driver) {
		return fmt.Errorf("engine: unknown driver %q (registered: %v)",
			cfg.Engine.Driver, reg.List())
	}

	// Version bound tokens must be recognized and ordered.
	if _, err := engine.NormalizeLibver(engine.LibverBounds{
		Low:  cfg.Engine.Libver.Low,
		High: cfg.Engine.Libver.High,
	}); err != nil {
		return fmt.Errorf("engine.libver: %w", err)
	}

	// The strategy token and page size must be usable at create time.
	if _, err := engine.NormalizeStrategy(cfg.Engine.Strategy); err != nil {
		return fmt.Errorf("engine.strategy: %w", err)
	}

	// Userblock sizes follow the container rule: zero or a power of two
	// of at least 512 bytes.
	if ub := cfg.Engine.Userblock; ub != 0 && (ub < 512 || ub&(ub-1) != 0) {
		return fmt.Errorf("engine.userblock: size must be zero or a power of two >= 512, got %d", ub)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
