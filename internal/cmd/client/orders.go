// Package client contains Cobra CLI commands for orderpipe.
package client

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

// NewOrderCommand constructs the `order` command group and subcommands.
func NewOrderCommand(baseURL BaseURLFunc) *cobra.Command {
	orderCmd := &cobra.Command{Use: "order", Short: "Order operations"}
	orderCmd.AddCommand(
		newOrderPublishCommand(baseURL),
		newOrderGetCommand(baseURL),
	)
	return orderCmd
}

// newOrderPublishCommand constructs the `order publish` subcommand.
func newOrderPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an order event to all subscribed queues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, _ := cmd.Flags().GetString("data")
			file, _ := cmd.Flags().GetString("file")

			var body []byte
			switch {
			case data != "" && file != "":
				return fmt.Errorf("use --data or --file, not both")
			case data != "":
				body = []byte(data)
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				body = b
			default:
				return fmt.Errorf("missing --data or --file")
			}

			status, _, err := postRaw(baseURL()+"/v1/orders/publish", body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			return nil
		},
	}
	publishCmd.Flags().String("data", "", "Order event JSON")
	publishCmd.Flags().String("file", "", "Read the order event JSON from a file")
	return publishCmd
}

// newOrderGetCommand constructs the `order get` subcommand.
func newOrderGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a stored order by id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			orderID, _ := cmd.Flags().GetString("id")
			if orderID == "" {
				return fmt.Errorf("missing --id")
			}
			u := baseURL() + "/v1/orders/get?orderId=" + url.QueryEscape(orderID)
			return getAndPrintJSON(cmd, u)
		},
	}
	getCmd.Flags().String("id", "", "Order id")
	return getCmd
}
