package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the orderpipe client.
// It registers the order and queue command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "orderpipe",
		Short: "Orderpipe client commands",
	}
	root.AddCommand(NewOrderCommand(baseURL))
	root.AddCommand(NewQueueCommand(baseURL))
	return root
}
