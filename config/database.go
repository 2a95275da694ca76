package config

import (
	"strings"
	"time"
)

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"jobfacade"`
	Password string `env:"PASSWORD"                envDefault:"jobfacade"`
	Name     string `env:"NAME"                    envDefault:"jobfacade"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}

// Sanitize applies guardrails to Postgres pool settings.
func (d *DBConfig) Sanitize() {
	d.Host = strings.TrimSpace(d.Host)
	if d.MaxOpenConns <= 0 {
		d.MaxOpenConns = 25
	}
	if d.MaxIdleConns < 0 || d.MaxIdleConns > d.MaxOpenConns {
		d.MaxIdleConns = d.MaxOpenConns
	}
	if d.ConnMaxLifetime < 0 {
		d.ConnMaxLifetime = 0
	}
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`

	// KeyPrefix namespaces every key the store writes. In cluster mode wrap it in braces
	// (e.g. "{rq}") so all keys share one hash slot.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"rq"`

	// ResultTTL is how long finished job hashes are kept. Zero keeps them until the reaper runs.
	ResultTTL time.Duration `env:"RESULT_TTL" envDefault:"0s"`
}

// Sanitize applies guardrails to Redis configuration values.
func (r *RedisConfig) Sanitize() {
	r.KeyPrefix = strings.TrimSpace(r.KeyPrefix)
	if r.KeyPrefix == "" {
		r.KeyPrefix = "rq"
	}
	if r.UseCluster && !strings.HasPrefix(r.KeyPrefix, "{") {
		r.KeyPrefix = "{" + r.KeyPrefix + "}"
	}
	if r.ResultTTL < 0 {
		r.ResultTTL = 0
	}
	if r.DB < 0 {
		r.DB = 0
	}
}

// BadgerConfig contains embedded Badger store configuration.
type BadgerConfig struct {
	// Path is the data directory. Required unless InMemory is set.
	Path string `env:"PATH" envDefault:"./data/jobs"`

	// InMemory keeps the store in memory only.
	InMemory bool `env:"IN_MEMORY" envDefault:"false"`
}

// Sanitize applies guardrails to Badger configuration values.
func (b *BadgerConfig) Sanitize() {
	b.Path = strings.TrimSpace(b.Path)
}
