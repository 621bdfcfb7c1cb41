package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tickwire/tickwire/internal/config"
	"github.com/tickwire/tickwire/internal/errors"
)

func initCmd() *cobra.Command {
	var (
		force      bool
		backend    string
		compressed bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a tickwire.json with default settings",
		Long: `Write a tickwire.json with default settings to dir, or to the current
directory.

Examples:
  tickwire init
  tickwire init ./server --backend=s3
  tickwire init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(dir, backend, compressed, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing tickwire.json")
	cmd.Flags().StringVar(&backend, "backend", config.BackendDisk, "Recording backend: disk, s3 or redis")
	cmd.Flags().BoolVar(&compressed, "compressed", false, "Use quantized codecs")

	return cmd
}

func runInit(dir, backend string, compressed, force bool) error {
	path := filepath.Join(dir, config.ConfigFileName)
	if config.Exists(dir) && !force {
		return errors.New("E142").WithSource(path)
	}

	cfg := config.New()
	cfg.Replication.Compressed = compressed
	cfg.Recording.Backend = backend
	switch backend {
	case config.BackendS3:
		cfg.Recording.S3.Bucket = "tickwire-recordings"
		cfg.Recording.S3.Region = "us-east-1"
	case config.BackendRedis:
		cfg.Recording.Redis.Addr = "localhost:6379"
		cfg.Recording.Redis.TTL = "168h"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveTo(path); err != nil {
		return err
	}

	success("Wrote %s", path)
	if backend != config.BackendDisk {
		info("Set recording.enabled to true and check the %s settings", backend)
	}
	return nil
}
