package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewIngestCommand constructs the `ingest` command: post one JSON record to
// a destination key.
func NewIngestCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest one JSON record into a destination",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			data, _ := cmd.Flags().GetString("data")
			durable, _ := cmd.Flags().GetString("durable")
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			if data == "" {
				return fmt.Errorf("--data is required")
			}
			body, err := readData(data)
			if err != nil {
				return err
			}
			url := baseURL() + "/v1/ingest/" + key
			if durable != "" {
				url += "?durable=" + durable
			}
			return postJSON(url, body)
		},
	}
	cmd.Flags().String("key", "", "Destination key")
	cmd.Flags().String("data", "", "Record JSON; @file loads a file, - reads stdin")
	cmd.Flags().String("durable", "", "Override ack waiting: true|false (default: destination config)")
	return cmd
}

// NewFlushCommand constructs the `flush` command: force delivery of
// everything outstanding on a destination's stream.
func NewFlushCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Flush a destination's live stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			return postJSON(baseURL()+"/v1/flush/"+key, nil)
		},
	}
	cmd.Flags().String("key", "", "Destination key")
	return cmd
}
