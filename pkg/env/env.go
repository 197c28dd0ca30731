// Package env reads the process settings that are needed before the
// envconfig-backed config is loaded.
package env

import (
	"os"
	"strings"
)

// Prefix namespaces every tableside variable.
const Prefix = "TABLESIDE_"

// Get returns TABLESIDE_<key>, then the bare key, then fallback. Blank values
// count as unset.
func Get(key, fallback string) string {
	for _, name := range []string{Prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}
