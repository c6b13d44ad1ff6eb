package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var excludeSessions []string

func init() {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show connection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().Health(cmd.Context())
			if err != nil {
				return err
			}
			if formatFlag == "text" {
				fmt.Fprintf(cmd.OutOrStdout(), "%v (%v active connections)\n", out["status"], out["active_connections"])
				return nil
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().Sessions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	evict := &cobra.Command{
		Use:   "evict <session-id>",
		Short: "Remove a session and close its connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().Evict(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	broadcast := &cobra.Command{
		Use:   "broadcast <json>",
		Short: "Push a status message to every connected client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := json.RawMessage(args[0])
			if !json.Valid(data) {
				return fmt.Errorf("payload is not valid JSON")
			}
			out, err := newClient().Broadcast(cmd.Context(), data, excludeSessions)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	broadcast.Flags().StringSliceVar(&excludeSessions, "exclude", nil, "Session ids to skip")

	RootCmd.AddCommand(stats, health, sessions, evict, broadcast)
}
