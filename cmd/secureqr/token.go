package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/secureqr/secureqr/internal/auth"
)

func newAdminTokenCmd(root *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint an admin bearer token from security.admin.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			token, expiry, err := auth.NewTokenService(cfg.Security.Admin).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiry.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject, recorded as the audit actor")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: security.admin.token_ttl)")
	return cmd
}
