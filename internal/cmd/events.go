package cmd

import (
	"fmt"

	"admission-gateway/internal/admission"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream security events until interrupted",
		Long: `Subscribe to the security events channel and print each event as
one JSON line. Events are published when an address is blacklisted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(env *storeEnv) error {
				ctx := cmd.Context()
				sub := env.client.Subscribe(ctx, admission.SecurityEventsChannel)
				defer sub.Close()

				// wait for the subscription to be confirmed
				if _, err := sub.Receive(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", admission.SecurityEventsChannel)

				ch := sub.Channel()
				for {
					select {
					case <-ctx.Done():
						return nil
					case msg, ok := <-ch:
						if !ok {
							return nil
						}
						fmt.Fprintln(cmd.OutOrStdout(), msg.Payload)
					}
				}
			})
		},
	}
}
