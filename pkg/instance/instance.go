package instance

import (
	"os"

	"github.com/angelmondragon/fhe-autopay/pkg/env"
)

const defaultID = "autopay-0"

// GetID returns the replica identifier: AUTOPAY_INSTANCE_ID, then the host
// name, then a fixed default.
func GetID() string {
	if id := env.Get("AUTOPAY_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return defaultID
}
