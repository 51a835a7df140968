package internal

import (
	"fmt"
	"time"
)

// Config carries every tunable of the service. All values come from the
// environment, optionally seeded from a .env file.
type Config struct {
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`

	Host string `env:"HOST,default=localhost"`
	Port int    `env:"PORT,default=8080"`

	// LockWindow is how long a freshly created room stays locked while its
	// owner configures it.
	LockWindow time.Duration `env:"ROOM_LOCK_WINDOW,default=30m"`

	// ReplayLimit caps how many stored messages a history replay may scan.
	// Nil means unbounded.
	ReplayLimit *int `env:"REPLAY_LIMIT"`

	MetricInterval time.Duration `env:"METRIC_INTERVAL,default=1m"`

	AuthTokenSecret   string        `env:"AUTH_TOKEN_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
