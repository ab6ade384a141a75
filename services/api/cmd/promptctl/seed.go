package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"promptapi/services/api/internal/app"
	"promptapi/services/api/internal/bootstrap"
)

var (
	seedUsername string
	seedPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed-superadmin",
	Short: "Create the super admin, or promote it and reset its password",
	Long: `Creates a super admin with the given credentials. If the username
already exists it is promoted to superAdmin, its password is replaced and
every token issued to it before now is revoked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(seedUsername) == "" || seedPassword == "" {
			return errors.New("--username and --password are required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := bootstrap.OpenStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		rdb := bootstrap.NewRedis(cfg)
		if rdb != nil {
			defer rdb.Close()
		}
		tokens, err := bootstrap.NewTokenManager(cfg, rdb)
		if err != nil {
			return err
		}

		admin, created, err := app.SeedSuperAdmin(ctx, st, tokens, seedUsername, seedPassword)
		if err != nil {
			return fmt.Errorf("seed super admin: %w", err)
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "super admin %q created (id %s)\n", admin.Username, admin.ID)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "super admin %q updated, existing sessions revoked\n", admin.Username)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedUsername, "username", "", "super admin username")
	seedCmd.Flags().StringVar(&seedPassword, "password", "", "super admin password")
}
