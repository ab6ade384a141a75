package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"promptapi/services/api/internal/bootstrap"
)

type pinger interface {
	Ping(ctx context.Context) error
}

var checkDBCmd = &cobra.Command{
	Use:   "check-db",
	Short: "Verify the store, image host and Redis are reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// No startup retries.
		cfg.StartupRetryAttempts = 1
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		st, err := bootstrap.OpenStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("store ping: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "store (%s): ok\n", cfg.StoreBackend)

		host, err := bootstrap.NewImageHost(ctx, cfg)
		if err != nil {
			return err
		}
		if p, ok := host.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("image host ping: %w", err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "image host (%s): ok\n", cfg.ImageHost)

		rdb := bootstrap.NewRedis(cfg)
		if rdb == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "redis: not configured")
			return nil
		}
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "redis (%s): ok\n", cfg.RedisAddr)
		return nil
	},
}
