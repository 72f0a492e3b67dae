// Package cmd provides the admission-gateway command line: the server and
// the operator tools for the blacklist, violation counters, security events
// and test tokens.
package cmd

import (
	"context"

	"admission-gateway/internal/admission"
	"admission-gateway/internal/app"
	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/config"
	"admission-gateway/internal/redis"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "admission-gateway",
		Short: "Admission control gateway with sliding-window rate limiting",
		Long: `admission-gateway sits in front of an HTTP service and admits or
rejects each request using per-endpoint sliding-window quotas, progressive
penalties for repeat offenders and a temporary IP blacklist, all kept in Redis.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newBlacklistCmd(),
		newViolationsCmd(),
		newEventsCmd(),
		newTokenCmd(),
	)
	return rootCmd
}

// Execute runs the command line with ctx
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context())
		},
	}
}

// storeEnv is what the operator commands share: configuration and a
// connection to the shared store.
type storeEnv struct {
	cfg       *config.Config
	client    *redis.Client
	blacklist *admission.BlacklistRegistry
	penalties *admission.PenaltyTracker
	logger    logging.Logger
}

// withStore loads configuration, connects to the store and runs fn
func withStore(ctx context.Context, fn func(env *storeEnv) error) error {
	cfg, cleanup, err := app.Bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := logging.GetGlobalLogger().WithFields(logging.String("component", "cli"))
	client, err := app.ConnectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	tuning := admission.TuningFor(cfg.Environment)
	orch := admission.NewOrchestrator(client, admission.Options{Tuning: &tuning, Logger: logger})
	return fn(&storeEnv{
		cfg:       cfg,
		client:    client,
		blacklist: orch.Blacklist(),
		penalties: orch.Penalties(),
		logger:    logger,
	})
}
