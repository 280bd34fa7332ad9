package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/ckp-export/internal/config"
	"github.com/Sternrassler/ckp-export/pkg/archive"
	"github.com/Sternrassler/ckp-export/pkg/mgmt"
)

// dialTimeout bounds the SSH connect of every command.
const dialTimeout = 15 * time.Second

// NewClient creates the management transport selected by cfg.
func NewClient(cfg *config.Config) (mgmt.Client, error) {
	switch cfg.Transport {
	case config.TransportSSH:
		return mgmt.NewSSHClient(mgmt.SSHConfig{
			Host:        cfg.SSHHost,
			User:        cfg.SSHUser,
			KeyFile:     cfg.SSHKey,
			KnownHosts:  cfg.KnownHosts,
			ConnTimeout: cfg.JobTimeout,
			DialTimeout: dialTimeout,
		})
	case config.TransportWeb:
		return mgmt.NewWebClient(mgmt.WebConfig{
			BaseURL:            cfg.WebURL,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// OpenSinks opens the Redis archive when cfg names one. The returned close
// function is never nil.
func OpenSinks(ctx context.Context, cfg *config.Config) ([]archive.Sink, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	sink, err := archive.OpenRedisSink(ctx, cfg.RedisURL, cfg.RedisExpiry())
	if err != nil {
		return nil, func() {}, fmt.Errorf("open redis archive: %w", err)
	}
	if cfg.RedisPrefix != "" {
		sink = sink.WithPrefix(cfg.RedisPrefix)
	}
	return []archive.Sink{sink}, func() { _ = sink.Close() }, nil
}
