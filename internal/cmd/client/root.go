package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the Flume client.
// It registers the ingest, flush, and inspection commands.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "flume",
		Short: "Flume client commands",
	}
	root.AddCommand(
		NewIngestCommand(baseURL),
		NewFlushCommand(baseURL),
		NewHealthCommand(baseURL),
		NewDestinationsCommand(baseURL),
	)
	return root
}
