package auditry

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read from the environment by LoadConfig.
type Config struct {
	// DatabaseURL is the audit storage target. Empty turns SQLWriter into a logged no-op.
	DatabaseURL     string        `env:"AUDIT_DATABASE_URL"`
	Driver          string        `env:"AUDIT_DB_DRIVER" envDefault:"postgres"`
	Table           string        `env:"AUDIT_TABLE" envDefault:"audit_log"`
	MaxOpenConns    int           `env:"AUDIT_DB_MAX_OPEN_CONNS" envDefault:"4"`
	MaxIdleConns    int           `env:"AUDIT_DB_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"AUDIT_DB_CONN_MAX_LIFETIME" envDefault:"1h"`

	// SystemActor is recorded when a save carries no actor.
	SystemActor string `env:"AUDIT_SYSTEM_ACTOR" envDefault:"system"`

	Kafka KafkaConfig `envPrefix:"AUDIT_KAFKA_"`
}

// KafkaConfig configures the optional Kafka writer.
type KafkaConfig struct {
	Brokers string `env:"BROKERS"`
	Topic   string `env:"TOPIC" envDefault:"audit-log"`
}

// Enabled reports whether a broker list is configured.
func (c KafkaConfig) Enabled() bool {
	return c.Brokers != ""
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills zero values for configs built in code rather than from the
// environment.
func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	if c.Table == "" {
		c.Table = "audit_log"
	}
	if c.SystemActor == "" {
		c.SystemActor = "system"
	}
	return c
}
