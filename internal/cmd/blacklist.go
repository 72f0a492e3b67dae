package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"text/tabwriter"
	"time"

	"admission-gateway/internal/admission"
	"admission-gateway/internal/common/errors"
	"admission-gateway/internal/common/utils"

	"github.com/spf13/cobra"
)

const manualReason = "manual"

func newBlacklistCmd() *cobra.Command {
	blacklistCmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Inspect and manage blacklisted addresses",
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List live blacklist entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(env *storeEnv) error {
				entries, err := env.blacklist.List(cmd.Context())
				if err != nil {
					return err
				}
				sort.Slice(entries, func(i, j int) bool { return entries[i].IP < entries[j].IP })
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				return writeEntries(cmd.OutOrStdout(), entries, time.Now())
			})
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")

	showCmd := &cobra.Command{
		Use:   "show <ip>",
		Short: "Show the blacklist entry for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(env *storeEnv) error {
				entry, err := env.blacklist.Get(cmd.Context(), args[0])
				if errors.IsNotFound(err) {
					return fmt.Errorf("%s is not blacklisted", args[0])
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), entry)
			})
		},
	}

	var (
		reason string
		ttl    string
	)
	addCmd := &cobra.Command{
		Use:   "add <ip>",
		Short: "Blacklist an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := parseIP(args[0])
			if err != nil {
				return err
			}
			lifetime, err := utils.ParseDuration(ttl)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(env *storeEnv) error {
				entry, err := env.blacklist.Add(cmd.Context(), ip, reason, lifetime)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "blacklisted %s until %s\n", entry.IP, entry.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&reason, "reason", manualReason, "Reason recorded with the entry")
	addCmd.Flags().StringVar(&ttl, "ttl", "1d", "How long the entry lives, e.g. 90m, 12h, 7d, 2w")

	removeCmd := &cobra.Command{
		Use:   "remove <ip>",
		Short: "Remove an address from the blacklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(env *storeEnv) error {
				removed, err := env.blacklist.Remove(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s was not blacklisted\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}

	blacklistCmd.AddCommand(listCmd, showCmd, addCmd, removeCmd)
	return blacklistCmd
}

func parseIP(s string) (string, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", fmt.Errorf("invalid IP address %q", s)
	}
	return addr.Unmap().String(), nil
}

func writeEntries(w io.Writer, entries []admission.BlacklistEntry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no blacklisted addresses")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tREASON\tCREATED\tEXPIRES IN")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.IP, e.Reason,
			e.CreatedAt.Format(time.RFC3339), utils.FormatDuration(e.ExpiresAt.Sub(now)))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
