package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/creditline/api"
	"github.com/xraph/creditline/id"
)

// tokenCmd issues bearer tokens for local testing. Production tokens come
// from whatever sign-in service shares the secret.
func tokenCmd(load func() (*Config, error)) *cobra.Command {
	var (
		accountID string
		name      string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required to issue tokens")
			}

			acct := id.NewAccountID()
			if accountID != "" {
				if acct, err = id.ParseAccountID(accountID); err != nil {
					return err
				}
			}

			var opts []api.AuthOption
			if cfg.Auth.Issuer != "" {
				opts = append(opts, api.WithIssuer(cfg.Auth.Issuer))
			}
			tok, err := api.NewAuthenticator(cfg.Auth.JWTSecret, opts...).IssueToken(acct, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id (default: a new one)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
