package main

import (
	"context"
	stderrors "errors"
	"io"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/tickwire/tickwire/internal/config"
	"github.com/tickwire/tickwire/internal/errors"
	"github.com/tickwire/tickwire/pkg/recording"
)

// openStore builds the recording store selected by cfg. The returned
// function releases backend connections.
func openStore(ctx context.Context, cfg *config.Config) (recording.Store, func(), error) {
	rc := cfg.Recording
	switch rc.Backend {
	case config.BackendDisk, "":
		store, err := recording.NewDiskStore(cfg.RecordingDir())
		if err != nil {
			return nil, nil, errors.New("E042").WithSource(cfg.RecordingDir()).Wrap(err)
		}
		return store, func() {}, nil

	case config.BackendS3:
		client := recording.NewS3Client(recording.S3Options{
			Region:          rc.S3.Region,
			Endpoint:        rc.S3.Endpoint,
			PathStyle:       rc.S3.PathStyle,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
		return recording.NewS3Store(client, rc.S3.Bucket, rc.S3.Prefix), func() {}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Redis.Addr,
			DB:       rc.Redis.DB,
			Password: os.Getenv("TICKWIRE_REDIS_PASSWORD"),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, errors.New("E042").WithSource("redis://" + rc.Redis.Addr).Wrap(err)
		}
		store := recording.NewRedisStore(client, rc.Redis.Prefix).WithTTL(cfg.RedisTTL())
		return store, func() { client.Close() }, nil
	}

	return nil, nil, errors.New("E124").WithSource(rc.Backend)
}

// storeError maps recording errors to CLI errors.
func storeError(err error, session string) error {
	var ce *errors.Error
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &ce):
		return ce
	case stderrors.Is(err, recording.ErrNotFound):
		return errors.New("E040").WithSource(session).Wrap(err)
	case stderrors.Is(err, recording.ErrBadHeader), stderrors.Is(err, recording.ErrInvalidKey):
		return errors.New("E043").WithSource(session).Wrap(err)
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		return errors.New("E041").WithSource(session).Wrap(err)
	}
	return errors.FromError(err, "E042").WithSource(session)
}
