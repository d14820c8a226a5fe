// Package textutil normalizes free-form text arriving from configuration
// tables and gateway payloads before it reaches the domain.
package textutil

import "strings"

// NormalizeStringMap trims keys and values of a credential or detail map,
// dropping entries whose key trims to nothing. Empty input collapses to nil so
// callers can treat "no map" and "nothing usable" the same way.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// NormalizeCode canonicalizes a lookup code such as a payment module or store
// code: trimmed and lower-cased, so registration and resolution agree on the
// key regardless of how the caller spelled it.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
