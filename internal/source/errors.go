package source

import "fmt"

// ConfigurationError indicates a call that can never succeed as configured: a
// catalogue entry without a registered implementation, or a provider invoked
// without a required parameter. It fails fast, is never retried, and does not
// degrade to the fallback ladder.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("source: provider %s: %s", e.Provider, e.Reason)
}

// MisconfiguredError is returned by a provider's Configured method when a
// required credential or endpoint is absent. The gateway logs it once and
// routes that provider to the fallback path.
type MisconfiguredError struct {
	Provider string
	Missing  string
}

func (e *MisconfiguredError) Error() string {
	return fmt.Sprintf("source: provider %s missing %s", e.Provider, e.Missing)
}
