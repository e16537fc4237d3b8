// Package factory builds a storage.Source from its type and settings.
package factory

import (
	"context"
	"fmt"

	"github.com/fruitsalade/fruitstatic/internal/storage"
	"github.com/fruitsalade/fruitstatic/internal/storage/local"
	s3source "github.com/fruitsalade/fruitstatic/internal/storage/s3"
)

// Config selects and configures an origin.
type Config struct {
	Type  string // "local" or "s3"
	Local local.Config
	S3    s3source.Config
}

// New creates the Source described by cfg.
func New(ctx context.Context, cfg Config) (storage.Source, error) {
	switch cfg.Type {
	case "", "local":
		return local.New(cfg.Local)
	case "s3":
		return s3source.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}
