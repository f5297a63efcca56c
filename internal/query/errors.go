package query

import "fmt"

// ConfigurationError reports an invalid analysis specification. It is always
// raised before any store query is dispatched.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}
