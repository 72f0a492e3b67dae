package cmd

import (
	"fmt"
	"time"

	"admission-gateway/internal/auth"
	"admission-gateway/internal/common/errors"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue bearer tokens for testing",
	}

	var (
		userID   string
		username string
		ttl      time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(env *storeEnv) error {
				if env.cfg.JWTSecret == "" {
					return errors.ConfigError("JWT_SECRET is required to issue tokens")
				}
				token, err := auth.New(env.cfg.JWTSecret, env.client, env.logger).GenerateJWT(userID, username, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	issueCmd.Flags().StringVar(&userID, "user-id", "", "User id claim (required)")
	issueCmd.Flags().StringVar(&username, "username", "", "Username claim")
	issueCmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = issueCmd.MarkFlagRequired("user-id")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}
