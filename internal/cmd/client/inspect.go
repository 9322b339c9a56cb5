package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewHealthCommand constructs the `health` command.
func NewHealthCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show gateway health and per-destination stream status",
		RunE: func(_ *cobra.Command, _ []string) error {
			return getJSON(baseURL() + "/v1/healthz")
		},
	}
}

// NewDestinationsCommand constructs the `destinations` command.
func NewDestinationsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destinations",
		Short: "List configured destinations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, _ := cmd.Flags().GetBool("stats")
			if !stats {
				return getJSON(baseURL() + "/v1/destinations")
			}
			recent, _ := cmd.Flags().GetInt("recent")
			url := baseURL() + "/v1/destinations/stats"
			if recent > 0 {
				url += fmt.Sprintf("?recent=%d", recent)
			}
			return getJSON(url)
		},
	}
	cmd.Flags().Bool("stats", false, "Include delivery counters and recent journal entries")
	cmd.Flags().Int("recent", 0, "Number of recent journal entries per destination (with --stats)")
	return cmd
}
