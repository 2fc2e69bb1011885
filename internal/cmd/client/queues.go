package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCommand constructs the `queue` command group and subcommands.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}
	queueCmd.AddCommand(
		newQueueStatsCommand(baseURL),
		newQueueInspectCommand(baseURL),
		newQueueRequeueCommand(baseURL),
	)
	return queueCmd
}

// newQueueStatsCommand constructs the `queue stats` subcommand.
func newQueueStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-queue message counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrintJSON(cmd, baseURL()+"/v1/queues/stats")
		},
	}
}

// newQueueInspectCommand constructs the `queue inspect` subcommand, mainly
// used to browse dead-letter queues before requeueing.
func newQueueInspectCommand(baseURL BaseURLFunc) *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "List queue messages without leasing them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			filter, _ := cmd.Flags().GetString("filter")
			parked, _ := cmd.Flags().GetBool("parked")
			limit, _ := cmd.Flags().GetInt("limit")
			if queue == "" {
				return fmt.Errorf("missing --queue")
			}

			v := url.Values{}
			v.Set("queue", queue)
			if filter != "" {
				v.Set("filter", filter)
			}
			if parked {
				v.Set("parked", "true")
			}
			if limit > 0 {
				v.Set("limit", strconv.Itoa(limit))
			}
			return getAndPrintJSON(cmd, baseURL()+"/v1/queues/inspect?"+v.Encode())
		},
	}
	inspectCmd.Flags().String("queue", "", "Queue name")
	inspectCmd.Flags().String("filter", "", "CEL filter (server-side)")
	inspectCmd.Flags().Bool("parked", false, "Include parked messages")
	inspectCmd.Flags().Int("limit", 0, "Stop after N messages (0 = all)")
	return inspectCmd
}

// newQueueRequeueCommand constructs the `queue requeue` subcommand.
func newQueueRequeueCommand(baseURL BaseURLFunc) *cobra.Command {
	requeueCmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move a message onto another queue with fresh delivery state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			msgID, _ := cmd.Flags().GetString("id")
			to, _ := cmd.Flags().GetString("to")
			if queue == "" || msgID == "" || to == "" {
				return fmt.Errorf("missing --queue, --id, or --to")
			}

			body, _ := json.Marshal(map[string]string{"queue": queue, "id": msgID, "to": to})
			status, _, err := postRaw(baseURL()+"/v1/queues/requeue", body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			return nil
		},
	}
	requeueCmd.Flags().String("queue", "", "Source queue name")
	requeueCmd.Flags().String("id", "", "Message id")
	requeueCmd.Flags().String("to", "", "Destination queue name")
	return requeueCmd
}
