// Package storage connects the app to the artifact storage with retries
package storage

import (
	"context"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/config"
	"github.com/UnendingLoop/ImageAugmentor/internal/storage/miniostorage"
	"github.com/wb-go/wbf/zlog"
)

// Defaults - дефолты для необязательных ключей хранилища, регистрируются в config.Load
var Defaults = config.Defaults{
	"S3_REGION": "us-east-1",
	"S3_BUCKET": "augmentation",
}

func OptionsFromConfig(cfg config.Getter) miniostorage.Options {
	return miniostorage.Options{
		Endpoint:  config.Required(cfg, "S3_ENDPOINT"),
		Region:    cfg.GetString("S3_REGION"),
		AccessKey: config.Required(cfg, "S3_ACCESS_KEY"),
		SecretKey: config.Required(cfg, "S3_SECRET_KEY"),
		Bucket:    cfg.GetString("S3_BUCKET"),
	}
}

// NewArtifactStorage blocks until the storage is reachable or ctx is done
func NewArtifactStorage(ctx context.Context, opts miniostorage.Options, delay time.Duration) (*miniostorage.MinioArtifactStorage, error) {
	for {
		zlog.Logger.Info().Str("endpoint", opts.Endpoint).Msg("Connecting to artifact storage...")
		client, err := miniostorage.NewMinioClient(ctx, opts)
		if err == nil {
			zlog.Logger.Info().Str("bucket", opts.Bucket).Msg("Successfully connected artifact storage!")
			return client, nil
		}
		zlog.Logger.Error().Err(err).Msgf("Failed to init connection to artifact storage. Next retry in %v...", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
