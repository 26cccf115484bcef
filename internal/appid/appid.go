package appid

import (
	"context"
	"os"
	"strings"
)

// Identity describes how the binary names itself on disk, in the environment and in telemetry.
type Identity struct {
	BinaryName  string
	ConfigName  string
	EnvPrefix   string
	Description string
	Namespace   string
}

var defaultIdentity = Identity{
	BinaryName:  "chatlens",
	ConfigName:  "chatlens",
	EnvPrefix:   "CHATLENS_",
	Description: "AI chat server with a streaming multi-stage research pipeline",
	Namespace:   "chatlens",
}

// EnvBinaryName overrides the binary name used in help text and telemetry.
const EnvBinaryName = "CHATLENS_BINARY_NAME"

// Get returns the application identity.
func Get(ctx context.Context) (*Identity, error) {
	identity := defaultIdentity
	if override := strings.TrimSpace(os.Getenv(EnvBinaryName)); override != "" {
		identity.BinaryName = override
	}
	return &identity, nil
}

// TelemetryNamespace returns the metric namespace for the application.
func (i *Identity) TelemetryNamespace() string {
	if i == nil || strings.TrimSpace(i.Namespace) == "" {
		return defaultIdentity.Namespace
	}
	return i.Namespace
}
