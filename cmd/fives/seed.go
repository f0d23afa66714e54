package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gartstein/fives/internal/fives/remote"
	"github.com/gartstein/fives/internal/fives/seed"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSeedCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the platform criteria library to the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.seed(cmd.Context(), file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "library YAML, defaults to the embedded one")
	return cmd
}

func (a *app) seed(ctx context.Context, file string) error {
	lib, err := loadLibrary(file)
	if err != nil {
		return err
	}

	repo, err := remote.Open(a.cfg.RemoteConfig(), a.logger)
	if err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = a.cfg.Remote.ConnectTimeout
	err = backoff.RetryNotify(func() error {
		return repo.Ping(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		a.logger.Warn("Remote store not ready", zap.Error(err), zap.Duration("retry_in", next))
	})
	if err != nil {
		return fmt.Errorf("remote store unreachable: %w", err)
	}
	return seed.Apply(ctx, repo, lib, a.logger)
}

func loadLibrary(file string) (*seed.Library, error) {
	now := time.Now().UTC()
	if file == "" {
		return seed.Default(now)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return seed.Parse(data, now)
}
