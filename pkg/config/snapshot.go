package config

import (
	"time"
)

// Snapshot is an immutable view of one successfully loaded configuration.
type Snapshot struct {
	Generation int64
	ReceivedAt time.Time
	Config     *Config
}
