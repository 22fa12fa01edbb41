package utils

import (
	"os"
	"strings"
)

// Attachment storage backends. Signed uploads and object serving are only
// implemented for GCS; any other value forces the streaming fallback path.
const (
	StorageProviderGCS   = "gcs"
	StorageProviderLocal = "local"
)

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}
