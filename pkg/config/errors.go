package config

import (
	"errors"
	"fmt"
)

// ErrModuleConfigNotFound is returned when a module's global JSON file does not exist.
var ErrModuleConfigNotFound = errors.New("module config not found")

// MissingAttributeError is returned when a key is absent from an otherwise loaded config.
type MissingAttributeError struct {
	Source string
	Key    string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("config %s: missing attribute %q", e.Source, e.Key)
}

// IsMissingAttribute reports whether err is (or wraps) a *MissingAttributeError.
func IsMissingAttribute(err error) bool {
	var mae *MissingAttributeError
	return errors.As(err, &mae)
}
