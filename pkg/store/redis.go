package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig is assembled from the CONSENT_REDIS_* settings in
// pkg/config.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLS        bool
	ServerName string
	CACertFile string
	RequireTLS bool
}

var redisPingTimeout = 2 * time.Second

// NewRedis dials and pings the configured server. An empty Addr is an
// error; callers that tolerate a degraded start skip the dial instead
// of passing defaults.
func NewRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: no address configured")
	}
	if cfg.RequireTLS && !cfg.TLS {
		return nil, fmt.Errorf("redis: CONSENT_REDIS_REQUIRE_TLS=true but CONSENT_REDIS_TLS is not enabled")
	}
	tlsConfig, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConfig,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (cfg RedisConfig) tlsConfig() (*tls.Config, error) {
	if !cfg.TLS {
		return nil, nil
	}
	out := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.ServerName != "" {
		out.ServerName = cfg.ServerName
	}
	if cfg.CACertFile != "" {
		pemBytes, err := os.ReadFile(filepath.Clean(cfg.CACertFile))
		if err != nil {
			return nil, fmt.Errorf("read CONSENT_REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("parse CONSENT_REDIS_TLS_CA_FILE: no valid certificates")
		}
		out.RootCAs = pool
	}
	return out, nil
}
