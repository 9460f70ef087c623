package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`                              // ConnectionURL in the format "redis://:password@localhost:6379/0". Empty disables Redis.
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`    // RetryAttempts is the number of connection attempts.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`   // RetryInterval is the pause between connection attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"` // ConnectTimeout bounds all connection attempts together.

	DedupTTL    time.Duration `env:"REDIS_DEDUP_TTL" envDefault:"72h"`             // DedupTTL is how long a processed event id is remembered.
	DedupPrefix string        `env:"REDIS_DEDUP_PREFIX" envDefault:"subsync:evt:"` // DedupPrefix namespaces event id keys.
}
