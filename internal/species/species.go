// Package species implements the admission-control gate for detections:
// only class names on the configured allow-list become Detection records.
package species

import (
	"strings"
)

// DefaultAllowed is the wild-cat species set the system ships with
var DefaultAllowed = []string{
	"tiger",
	"leopard",
	"jaguar",
	"lion",
	"cheetah",
	"snow leopard",
	"clouded leopard",
	"puma",
	"lynx",
}

// Validator answers whether a reported class name is an allowed species.
// Matching is a case-insensitive exact match. No side effects.
type Validator struct {
	allowed map[string]struct{}
}

// NewValidator creates a validator for the given allow-list. An empty
// list falls back to DefaultAllowed.
func NewValidator(allowed []string) *Validator {
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}

	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	return &Validator{allowed: set}
}

// IsAllowed reports whether className is on the allow-list
func (v *Validator) IsAllowed(className string) bool {
	_, ok := v.allowed[strings.ToLower(strings.TrimSpace(className))]
	return ok
}
