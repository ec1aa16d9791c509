package crawler

import (
	"errors"
	"fmt"
)

// ErrNoSeeds is returned when no usable seed URL remains after trimming.
var ErrNoSeeds = errors.New("no valid URLs provided")

// ConfigError reports a run that could not start because of its inputs.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// FetchError is a recoverable failure to fetch one URL. It never aborts a run.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// IsConfigError reports whether err stems from invalid run inputs.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
