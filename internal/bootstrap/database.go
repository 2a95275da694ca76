package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/target/jobfacade/config"
	"github.com/target/jobfacade/internal/migrate"
)

// connectTimeout bounds the initial ping of each backend.
const connectTimeout = 5 * time.Second

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens a database/sql pool over pgx and verifies it with a ping.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	connCfg, err := pgxConnConfig(cfg.DBConfig)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(cfg.DBConfig.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DBConfig.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database %s:%d: %w", connCfg.Host, connCfg.Port, pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", connCfg.Host,
			"port", connCfg.Port,
			"database", connCfg.Database,
			"max_open_conns", cfg.DBConfig.MaxOpenConns,
		)
	}
	return db, nil
}

// pgxConnConfig builds the driver config from keyword/value pairs so credentials never need
// URL escaping.
func pgxConnConfig(c config.DBConfig) (*pgx.ConnConfig, error) {
	pairs := []struct{ key, val string }{
		{"host", c.Host},
		{"port", fmt.Sprint(c.Port)},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.Name},
		{"sslmode", c.SSLMode},
		{"connect_timeout", fmt.Sprint(int(connectTimeout.Seconds()))},
	}
	var b strings.Builder
	for _, p := range pairs {
		if p.val == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.key)
		b.WriteString("='")
		b.WriteString(strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(p.val))
		b.WriteByte('\'')
	}
	connCfg, err := pgx.ParseConfig(b.String())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	return connCfg, nil
}

// ConnectRedis builds a single-node, sentinel or cluster client from configuration and pings it.
//
//nolint:ireturn // the client flavour is picked from configuration at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	opts, err := redisUniversalOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "mode", redisMode(cfg.RedisConfig), "addrs", opts.Addrs)
	}
	return client, nil
}

func redisMode(c config.RedisConfig) string {
	switch {
	case c.UseCluster:
		return "cluster"
	case c.UseSentinel:
		return "sentinel"
	default:
		return "direct"
	}
}

// redisUniversalOptions maps configuration onto go-redis options. A redis:// or rediss:// URI
// contributes its address, credentials, database and TLS settings.
func redisUniversalOptions(c config.RedisConfig) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{
		Password: c.Password,
		DB:       c.DB,
	}

	uri := strings.TrimSpace(c.URI)
	if strings.HasPrefix(uri, "redis://") || strings.HasPrefix(uri, "rediss://") {
		parsed, err := redis.ParseURL(uri)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		uri = parsed.Addr
		opts.Username = parsed.Username
		if parsed.Password != "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 {
			opts.DB = parsed.DB
		}
		opts.TLSConfig = parsed.TLSConfig
	}

	switch {
	case c.UseSentinel:
		opts.Addrs = trimAll(c.SentinelNodes)
		opts.MasterName = c.SentinelMasterName
		opts.SentinelPassword = c.SentinelPassword
		if len(opts.Addrs) == 0 {
			return nil, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
	case c.UseCluster:
		opts.Addrs = trimAll(c.ClusterNodes)
		if len(opts.Addrs) == 0 && uri != "" {
			opts.Addrs = []string{uri}
		}
		if len(opts.Addrs) == 0 {
			return nil, errors.New("redis cluster configuration requires at least one address")
		}
		// Cluster clients only accept database 0.
		opts.DB = 0
		opts.IsClusterMode = true
	default:
		if uri == "" {
			return nil, errors.New("redis direct configuration requires a URI")
		}
		opts.Addrs = []string{uri}
	}
	return opts, nil
}

func trimAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db, migrate.Options{Logger: logger}); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
