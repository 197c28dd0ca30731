package instance

import (
	"os"

	"github.com/angelmondragon/tableside-backend/pkg/env"
)

// GetID identifies this process in worker logs. It prefers
// TABLESIDE_INSTANCE_ID, then the hostname, then "<service>-0".
func GetID(service string) string {
	if id := env.Get("INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return service + "-0"
}
