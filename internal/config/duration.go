package config

import (
	"fmt"
	"time"
)

// validateDuration checks that s parses as a time.Duration, rejecting the
// empty string (callers must supply an explicit value, including "0s").
func validateDuration(s string) error {
	if s == "" {
		return fmt.Errorf("duration must not be empty")
	}

	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	return nil
}
