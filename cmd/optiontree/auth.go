package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"optiontree/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject  string
		missions []string
		admin    bool
		readOnly bool
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the server",
		Long: `Sign an API token with the server's key, read from jwt_key in the config
file or OPTIONTREE_JWT_KEY.

Examples:
  optiontree token --subject ci --mission survey-2024
  optiontree token --subject ops --admin --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := a.v.GetString("jwt_key")
			if key == "" {
				return fmt.Errorf("no signing key: set jwt_key in the config or OPTIONTREE_JWT_KEY")
			}
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			svc := auth.NewTokenService([]byte(key), a.v.GetString("jwt_issuer"), 0)
			tok, err := svc.Issue(auth.TokenRequest{
				Subject:  subject,
				Missions: missions,
				Admin:    admin,
				ReadOnly: readOnly,
				TTL:      ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&missions, "mission", nil, "allowed mission (repeatable, * for all)")
	cmd.Flags().BoolVar(&admin, "admin", false, "allow mission management")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "restrict the token to reads")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 24h)")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <admin-key>",
		Short: "Hash an admin key for OPTIONTREE_ADMIN_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashAdminKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
