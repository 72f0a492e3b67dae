package cmd

import (
	"admission-gateway/internal/admission"
	"admission-gateway/internal/common/errors"
	"admission-gateway/internal/common/utils"

	"github.com/spf13/cobra"
)

type violationReport struct {
	IP                string  `json:"ip"`
	Violations        int64   `json:"violations"`
	PenaltyMultiplier float64 `json:"penalty_multiplier"`
	Blacklisted       bool    `json:"blacklisted"`
	// ExpiresIn is when the counter decays to zero; empty without violations
	ExpiresIn string `json:"expires_in,omitempty"`
}

func newViolationsCmd() *cobra.Command {
	violationsCmd := &cobra.Command{
		Use:   "violations",
		Short: "Inspect violation counters",
	}

	showCmd := &cobra.Command{
		Use:   "show <ip>",
		Short: "Show the violation count and penalty of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := parseIP(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(env *storeEnv) error {
				count, err := env.penalties.Violations(cmd.Context(), ip)
				if err != nil {
					return err
				}
				blacklisted, err := env.blacklist.IsBlacklisted(cmd.Context(), ip)
				if err != nil {
					return err
				}
				report := violationReport{
					IP:                ip,
					Violations:        count,
					PenaltyMultiplier: admission.PenaltyMultiplier(count),
					Blacklisted:       blacklisted,
				}
				if count > 0 {
					ttl, err := env.client.TTL(cmd.Context(), admission.ViolationKey(ip))
					if err != nil && !errors.IsNotFound(err) {
						return err
					}
					if err == nil {
						report.ExpiresIn = utils.FormatDuration(ttl)
					}
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	violationsCmd.AddCommand(showCmd)
	return violationsCmd
}
